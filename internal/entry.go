// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/confluence"
	"github.com/starford/md2conf/internal/journal"
	"github.com/starford/md2conf/internal/markup"
	"github.com/starford/md2conf/internal/mcpserver"
	"github.com/starford/md2conf/internal/models"
	"github.com/starford/md2conf/internal/reconcile"
	"github.com/starford/md2conf/internal/tree"
	"github.com/starford/md2conf/internal/watch"
)

// Run syncs the configured folders once, or keeps syncing them on every
// change when watch mode is enabled. It returns apperr.ErrPartialFailure
// when the run completed but some pages failed or were skipped.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg.App, app.logOutputOr(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("space", cfg.Confluence.Space()),
		slog.String("ancestor", cfg.Confluence.Ancestor),
		slog.Any("folders", cfg.Sync.Folders),
		slog.Bool("simulate", cfg.Sync.Simulate),
		slog.Bool("delete", cfg.Sync.Delete),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	var api reconcile.API
	if !cfg.Sync.Simulate {
		clientOpts := []confluence.Option{
			confluence.WithRateLimit(cfg.Confluence.RequestsPerSecond),
			confluence.WithRetry(cfg.Confluence.Retries, app.retryDelay, 2),
			confluence.WithLogger(logger),
		}
		if app.httpClient != nil {
			clientOpts = append(clientOpts, confluence.WithHTTPClient(app.httpClient))
		}
		client := confluence.New(
			confluence.BaseURL(cfg.Confluence.OrgName, cfg.Confluence.NoSSL),
			cfg.Confluence.Username, cfg.Confluence.APIKey, clientOpts...)
		logger.Info("Confluence client ready", slog.String("url", client.URL()))
		api = client
	}

	rec := reconcile.New(api, reconcile.Options{
		Space:      cfg.Confluence.Space(),
		AncestorID: cfg.Confluence.Ancestor,
		Delete:     cfg.Sync.Delete,
		Simulate:   cfg.Sync.Simulate,
		LogHTML:    cfg.Sync.LogHTML,
		LogDir:     cfg.Sync.LogDir,
		Markup:     markupOptions(cfg.Markup),
	}, logger)

	var db *journal.DB
	if cfg.Journal.Enabled() {
		var err error
		db, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		defer db.Close()
	}

	syncOnce := func(ctx context.Context) error {
		t, err := tree.Resolve(cfg.Sync.Folders, treeOptions(cfg.Sync))
		if err != nil {
			return fmt.Errorf("resolve folders: %w", err)
		}
		logger.Info("Folders resolved", slog.Int("documents", t.Len()))

		sum, runErr := rec.Run(ctx, t)
		if db != nil && sum != nil {
			if id, err := recordRun(db, cfg.Confluence.Space(), sum); err != nil {
				logger.Warn("journal write failed", slog.String("error", err.Error()))
			} else {
				logger.Debug("run journaled", slog.Int64("run_id", id))
			}
		}
		if runErr != nil {
			return runErr
		}
		if sum.Failed() {
			return apperr.ErrPartialFailure
		}
		return nil
	}

	if !cfg.Watch.Enabled {
		return syncOnce(ctx)
	}

	// Watch mode: one sync up front, then one per settled change.
	if err := syncOnce(ctx); err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return err
		}
		logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(wctx)

	g.Go(func() error {
		defer cancel()
		return watch.Watch(gCtx, cfg.Sync.Folders, cfg.Watch.Debounce, logger, syncOnce)
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, stopping watcher")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Watch error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}

// RunHistory prints the most recent journaled runs, or the journaled events
// of one document when WithHistoryPath is given.
func RunHistory(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config
	if !cfg.Journal.Enabled() {
		return errors.New("history: no journal configured")
	}

	db, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	tw := tabwriter.NewWriter(app.out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if app.historyPath != "" {
		path, err := filepath.Abs(app.historyPath)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		events, err := db.History(path, cfg.Journal.HistoryLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ACTION\tTITLE\tPAGE\tCHECKSUM\tERROR")
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Action, e.Title, e.PageID, shortSum(e.Checksum), e.Error)
		}
		return nil
	}

	runs, err := db.RecentRuns(cfg.Journal.HistoryLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSPACE\tMODE\tCREATED\tUPDATED\tUNCHANGED\tFAILED\tSKIPPED\tDELETED")
	for _, r := range runs {
		mode := "sync"
		if r.Simulate {
			mode = "simulate"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.SpaceKey, mode, r.Created, r.Updated, r.Unchanged, r.Failed, r.Skipped, r.Deleted)
	}
	return nil
}

// RunMCP serves the read-only MCP tools on stdin/stdout until the client
// disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg.App, app.logOutputOr(os.Stderr))
	slog.SetDefault(logger)
	logger.Info("MCP server starting", slog.Any("folders", cfg.Sync.Folders))

	srv := mcpserver.New(cfg.Sync.Folders, treeOptions(cfg.Sync), markupOptions(cfg.Markup))
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (a *application) logOutputOr(w io.Writer) io.Writer {
	if a.logOutput != nil {
		return a.logOutput
	}
	return w
}

func newLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

func treeOptions(c SyncConfig) tree.Options {
	return tree.Options{MissingFolderPage: tree.Policy(c.MissingFolderPage)}
}

func markupOptions(c MarkupConfig) markup.Options {
	return markup.Options{Note: c.Note, Contents: c.Contents}
}

// recordRun writes the outcome of a run to the journal.
func recordRun(db *journal.DB, space string, sum *reconcile.Summary) (int64, error) {
	finished := sum.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	run := journal.Run{
		StartedAt:  sum.StartedAt,
		FinishedAt: finished,
		SpaceKey:   space,
		Simulate:   sum.Simulate,
		Created:    sum.Count(models.ActionCreated),
		Updated:    sum.Count(models.ActionUpdated),
		Unchanged:  sum.Count(models.ActionUnchanged),
		Failed:     sum.Count(models.ActionFailed),
		Skipped:    sum.Count(models.ActionSkipped),
		Deleted:    sum.Count(models.ActionDeleted),
	}
	events := make([]journal.Event, 0, len(sum.Outcomes))
	for _, o := range sum.Outcomes {
		events = append(events, journal.Event{
			Path:     o.Path,
			Title:    o.Title,
			PageID:   o.PageID,
			Action:   string(o.Action),
			Checksum: o.Checksum,
			Error:    o.Err,
		})
	}
	return db.Record(run, events)
}

func shortSum(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
