package reconcile

import (
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/md2conf/internal/checksum"
	"github.com/starford/md2conf/internal/markup"
	"github.com/starford/md2conf/internal/models"
	"github.com/starford/md2conf/internal/tree"
)

// simulate converts every document and writes the markup to a log file
// instead of talking to Confluence.
func (r *Reconciler) simulate(t *tree.Tree, conv *markup.Converter, sum *Summary) error {
	if err := os.MkdirAll(r.opts.LogDir, 0o755); err != nil {
		return fmt.Errorf("reconcile: create log dir: %w", err)
	}
	name := filepath.Join(r.opts.LogDir, "logs_"+sum.StartedAt.Format("2006_01_02-15_04")+".txt")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reconcile: open simulate log: %w", err)
	}
	defer func() { _ = f.Close() }()
	sum.LogFile = name

	for _, doc := range t.Ordered() {
		out := Outcome{Path: doc.Path, Title: doc.Title}
		body, _, err := conv.Render(doc.Body, doc.Path)
		if err != nil {
			out.Action = models.ActionFailed
			out.Err = err.Error()
			sum.add(out)
			r.logger.Warn("page failed", slog.String("title", doc.Title), slog.String("error", err.Error()))
			continue
		}
		out.Checksum = checksum.Sum([]byte(body))

		if _, err := fmt.Fprintf(f, "%s\n%s\n", doc.Title, body); err != nil {
			return fmt.Errorf("reconcile: write simulate log: %w", err)
		}
		if r.opts.LogHTML {
			page := filepath.Join(r.opts.LogDir, safeFileName(doc.Title)+".html")
			content := "<h1>" + html.EscapeString(doc.Title) + "</h1>" + body
			if err := os.WriteFile(page, []byte(content), 0o644); err != nil {
				return fmt.Errorf("reconcile: write page log: %w", err)
			}
		}

		out.Action = models.ActionSimulated
		sum.add(out)
		r.logger.Debug("page simulated", slog.String("title", doc.Title))
	}
	return nil
}

var unsafeFileChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

func safeFileName(title string) string {
	return unsafeFileChars.Replace(title)
}
