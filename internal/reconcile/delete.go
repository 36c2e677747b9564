package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/models"
	"github.com/starford/md2conf/internal/tree"
)

type remotePage struct {
	ref      models.PageRef
	parentID string
	depth    int
}

// descendants lists every page below the ancestor, depth first.
func (r *Reconciler) descendants(ctx context.Context) ([]remotePage, error) {
	var out []remotePage
	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		children, err := r.api.ChildPages(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			out = append(out, remotePage{ref: c, parentID: id, depth: depth})
			if err := walk(c.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(r.opts.AncestorID, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// deleteOrphans removes pages below the ancestor that no local document maps
// to, deepest first. Pages without the ownership label are left alone.
func (r *Reconciler) deleteOrphans(ctx context.Context, t *tree.Tree, sum *Summary) error {
	pages, err := r.descendants(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("reconcile: list descendants: %w", err)
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].depth > pages[j].depth })

	keep := keptPages(pages, t.Titles(), t.Skipped())
	for _, p := range pages {
		if keep[p.ref.ID] {
			continue
		}
		out := Outcome{Title: p.ref.Title, PageID: p.ref.ID}
		log := r.logger.With(slog.String("title", p.ref.Title), slog.String("page_id", p.ref.ID))

		if !p.ref.HasLabel(r.opts.Label) {
			out.Action = models.ActionSpared
			sum.add(out)
			log.Info("page spared, not created by md2conf")
			continue
		}
		if err := r.api.DeletePage(ctx, p.ref.ID); err != nil {
			out.Action = models.ActionFailed
			out.Err = err.Error()
			sum.add(out)
			log.Warn("page delete failed", slog.String("error", err.Error()))
			if errors.Is(err, apperr.ErrUnauthorized) {
				return err
			}
			continue
		}
		out.Action = models.ActionDeleted
		sum.add(out)
		log.Info("page deleted")
	}
	return nil
}

// keptPages returns the ids of pages that map to a local document, including
// documents below skipped folders, together with all their remote ancestors.
func keptPages(pages []remotePage, local, skipped map[string]struct{}) map[string]bool {
	parent := make(map[string]string, len(pages))
	for _, p := range pages {
		parent[p.ref.ID] = p.parentID
	}
	keep := make(map[string]bool)
	for _, p := range pages {
		_, isLocal := local[p.ref.Title]
		_, isSkipped := skipped[p.ref.Title]
		if !isLocal && !isSkipped {
			continue
		}
		for id := p.ref.ID; id != "" && !keep[id]; id = parent[id] {
			keep[id] = true
		}
	}
	return keep
}
