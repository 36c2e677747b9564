package reconcile

import (
	"log/slog"
	"time"

	"github.com/starford/md2conf/internal/models"
)

// Outcome is what happened to one page during a run.
type Outcome struct {
	Path     string
	Title    string
	PageID   string
	Action   models.Action
	Checksum string // SHA-256 of the markup sent or compared
	Err      string
}

// Summary collects the outcomes of one run.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Simulate   bool
	LogFile    string // markup log written in simulate mode

	Outcomes []Outcome

	AttachmentsUploaded  int
	AttachmentsUnchanged int
	AttachmentsFailed    int

	counts map[models.Action]int
}

func newSummary(now time.Time, simulate bool) *Summary {
	return &Summary{
		StartedAt: now,
		Simulate:  simulate,
		counts:    make(map[models.Action]int),
	}
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.counts[o.Action]++
}

// Count returns how many pages ended with action.
func (s *Summary) Count(action models.Action) int {
	return s.counts[action]
}

// Failed reports whether any page failed or was skipped.
func (s *Summary) Failed() bool {
	return s.counts[models.ActionFailed] > 0 || s.counts[models.ActionSkipped] > 0
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("created", s.Count(models.ActionCreated)),
		slog.Int("updated", s.Count(models.ActionUpdated)),
		slog.Int("unchanged", s.Count(models.ActionUnchanged)),
		slog.Int("failed", s.Count(models.ActionFailed)),
		slog.Int("skipped", s.Count(models.ActionSkipped)),
		slog.Int("deleted", s.Count(models.ActionDeleted)),
		slog.Int("spared", s.Count(models.ActionSpared)),
		slog.Int("simulated", s.Count(models.ActionSimulated)),
		slog.Int("attachments_uploaded", s.AttachmentsUploaded),
		slog.Int("attachments_unchanged", s.AttachmentsUnchanged),
		slog.Int("attachments_failed", s.AttachmentsFailed),
		slog.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	)
}
