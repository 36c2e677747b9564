// Package reconcile brings a Confluence page tree in line with a resolved
// tree of local Markdown documents.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/checksum"
	"github.com/starford/md2conf/internal/confluence"
	"github.com/starford/md2conf/internal/markup"
	"github.com/starford/md2conf/internal/models"
	"github.com/starford/md2conf/internal/tree"
)

// DefaultLabel marks pages owned by md2conf. Unlabeled pages are never deleted.
const DefaultLabel = "md_to_conf"

// API is the part of the Confluence client the reconciler needs.
type API interface {
	GetPage(ctx context.Context, id string) (*models.PageRef, error)
	FindPageByTitle(ctx context.Context, space, title string) (*models.PageRef, error)
	CreatePage(ctx context.Context, in confluence.PageInput) (*models.PageRef, error)
	UpdatePage(ctx context.Context, id string, current int, in confluence.PageInput) (*models.PageRef, error)
	DeletePage(ctx context.Context, id string) error
	AddLabels(ctx context.Context, id string, names ...string) error
	ChildPages(ctx context.Context, id string) ([]models.PageRef, error)
	FindAttachment(ctx context.Context, pageID, filename string) (*confluence.RemoteAttachment, error)
	UploadAttachment(ctx context.Context, pageID, existingID string, att models.Attachment) (*confluence.RemoteAttachment, error)
	SetAttachmentHash(ctx context.Context, attachmentID, sum string) error
}

// Options configures a Reconciler.
type Options struct {
	Space      string
	AncestorID string
	Delete     bool
	Simulate   bool
	LogHTML    bool
	LogDir     string // simulate output folder, "logs" when empty
	Label      string // ownership label, DefaultLabel when empty
	Markup     markup.Options
}

// Reconciler runs one sequential sync pass per call to Run.
type Reconciler struct {
	api    API
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reconciler. api may be nil in simulate mode.
func New(api API, opts Options, logger *slog.Logger) *Reconciler {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.LogDir == "" {
		opts.LogDir = "logs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{api: api, opts: opts, logger: logger, now: time.Now}
}

// Run syncs every document of t. Per-page failures are recorded in the
// summary and do not stop the run; an authorization failure does.
func (r *Reconciler) Run(ctx context.Context, t *tree.Tree) (*Summary, error) {
	sum := newSummary(r.now(), r.opts.Simulate)
	for _, p := range t.Problems() {
		sum.add(Outcome{Path: p.Folder, Action: models.ActionSkipped, Err: p.Reason})
		r.logger.Warn("folder skipped", slog.String("folder", p.Folder), slog.String("reason", p.Reason))
	}
	conv := markup.New(r.opts.Markup, t)

	if r.opts.Simulate {
		if err := r.simulate(t, conv, sum); err != nil {
			return sum, err
		}
		return r.finish(sum), nil
	}

	if err := r.preflight(ctx); err != nil {
		return sum, err
	}

	ids := make(map[string]string, t.Len())
	failed := make(map[string]bool)
	for _, doc := range t.Ordered() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, atts, err := r.syncDocument(ctx, conv, doc, ids, failed)
		sum.add(out)
		if err != nil {
			return sum, err
		}
		if out.Action == models.ActionFailed || out.Action == models.ActionSkipped {
			continue
		}
		if err := r.syncAttachments(ctx, out.PageID, doc.Title, atts, sum); err != nil {
			return sum, err
		}
	}

	if r.opts.Delete {
		if err := r.deleteOrphans(ctx, t, sum); err != nil {
			return sum, err
		}
	}
	return r.finish(sum), nil
}

func (r *Reconciler) finish(sum *Summary) *Summary {
	sum.FinishedAt = r.now()
	r.logger.Info("sync finished", slog.Any("summary", sum))
	return sum
}

// preflight checks that the ancestor page exists and is readable.
func (r *Reconciler) preflight(ctx context.Context) error {
	if r.opts.AncestorID == "" {
		return errors.New("reconcile: ancestor page id is required")
	}
	_, err := r.api.GetPage(ctx, r.opts.AncestorID)
	switch {
	case err == nil:
		return nil
	case confluence.IsUnauthorized(err), confluence.IsForbidden(err):
		return fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	case confluence.IsNotFound(err):
		return fmt.Errorf("reconcile: ancestor page %s not found: %w", r.opts.AncestorID, err)
	default:
		return fmt.Errorf("reconcile: preflight: %w", err)
	}
}

// syncDocument creates or updates the page of doc and returns the images it
// references. The returned error is non-nil only when the run must stop.
func (r *Reconciler) syncDocument(ctx context.Context, conv *markup.Converter, doc *models.Document, ids map[string]string, failed map[string]bool) (Outcome, []models.Attachment, error) {
	out := Outcome{Path: doc.Path, Title: doc.Title}
	log := r.logger.With(slog.String("title", doc.Title), slog.String("path", doc.RelPath))

	parentID := r.opts.AncestorID
	if !doc.TopLevel() {
		if failed[doc.ParentPath] {
			failed[doc.Path] = true
			out.Action = models.ActionSkipped
			out.Err = "parent page failed"
			log.Warn("page skipped, parent failed")
			return out, nil, nil
		}
		parentID = ids[doc.ParentPath]
	}

	fail := func(err error) (Outcome, []models.Attachment, error) {
		failed[doc.Path] = true
		out.Action = models.ActionFailed
		out.Err = err.Error()
		log.Warn("page failed", slog.String("error", err.Error()))
		if errors.Is(err, apperr.ErrUnauthorized) {
			return out, nil, err
		}
		return out, nil, nil
	}

	body, atts, err := conv.Render(doc.Body, doc.Path)
	if err != nil {
		return fail(err)
	}
	out.Checksum = checksum.Sum([]byte(body))
	in := confluence.PageInput{Space: r.opts.Space, Title: doc.Title, Body: body, AncestorID: parentID}

	existing, err := r.api.FindPageByTitle(ctx, r.opts.Space, doc.Title)
	if err != nil {
		return fail(err)
	}

	var page *models.PageRef
	switch {
	case existing == nil:
		page, err = r.api.CreatePage(ctx, in)
		if err != nil {
			return fail(err)
		}
		if err := r.api.AddLabels(ctx, page.ID, r.opts.Label); err != nil {
			out.PageID = page.ID
			return fail(fmt.Errorf("label page: %w", err))
		}
		out.Action = models.ActionCreated
	case sameContent(existing, in):
		page = existing
		out.Action = models.ActionUnchanged
	default:
		page, err = r.api.UpdatePage(ctx, existing.ID, existing.Version, in)
		if err != nil {
			out.PageID = existing.ID
			return fail(err)
		}
		out.Action = models.ActionUpdated
	}

	ids[doc.Path] = page.ID
	out.PageID = page.ID
	log.Info("page "+string(out.Action), slog.String("page_id", page.ID))
	return out, atts, nil
}

// syncAttachments uploads the images of a page whose content changed.
// Failures are counted and logged but never fail the page.
func (r *Reconciler) syncAttachments(ctx context.Context, pageID, title string, atts []models.Attachment, sum *Summary) error {
	for _, att := range atts {
		log := r.logger.With(slog.String("title", title), slog.String("attachment", att.Filename))

		digest, err := checksum.SumFile(att.Path)
		if err != nil {
			sum.AttachmentsFailed++
			log.Warn("attachment not readable", slog.String("error", err.Error()))
			continue
		}

		remote, err := r.api.FindAttachment(ctx, pageID, att.Filename)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				return err
			}
			sum.AttachmentsFailed++
			log.Warn("attachment lookup failed", slog.String("error", err.Error()))
			continue
		}
		if remote != nil && remote.Hash == digest {
			sum.AttachmentsUnchanged++
			continue
		}

		existingID := ""
		if remote != nil {
			existingID = remote.ID
		}
		up, err := r.api.UploadAttachment(ctx, pageID, existingID, att)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				return err
			}
			sum.AttachmentsFailed++
			log.Warn("attachment upload failed", slog.String("error", err.Error()))
			continue
		}
		if err := r.api.SetAttachmentHash(ctx, up.ID, digest); err != nil {
			log.Warn("attachment hash not stored", slog.String("error", err.Error()))
		}
		sum.AttachmentsUploaded++
		log.Debug("attachment uploaded")
	}
	return nil
}

var reVolatileAttrs = regexp.MustCompile(` ac:(?:schema-version|macro-id)="[^"]*"`)

// normalize strips the attributes Confluence adds when it stores a body so
// that a stored body compares equal to the markup it was created from.
func normalize(s string) string {
	s = reVolatileAttrs.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	return strings.TrimSpace(s)
}

func sameContent(remote *models.PageRef, in confluence.PageInput) bool {
	return remote.Title == in.Title &&
		remote.AncestorID == in.AncestorID &&
		normalize(remote.Body) == normalize(in.Body)
}
