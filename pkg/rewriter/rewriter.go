package rewriter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/metadata"
	"github.com/quarrydb/quarry/pkg/metrics"
	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/volume"
	"github.com/quarrydb/quarry/pkg/walreg"
)

// RewriteConflictError means a structural change (tablet split or merge)
// raced the scan. The pass made no guarantees about rows it had not reached,
// so the caller retries the whole pass; rows already rewritten stay
// rewritten.
type RewriteConflictError struct {
	Before uint64
	After  uint64
}

func (e *RewriteConflictError) Error() string {
	return fmt.Sprintf("concurrent structural change during rewrite (generation %d -> %d), retry the pass",
		e.Before, e.After)
}

// IsConflict reports whether err is a RewriteConflictError.
func IsConflict(err error) bool {
	var ce *RewriteConflictError
	return errors.As(err, &ce)
}

// Rewriter migrates persisted references off replaced volumes. It must run in
// a single coordinating process; within a pass it serializes per-row
// delete+insert while remaining safe to abort between rows and re-run.
type Rewriter struct {
	store    metadata.Store
	registry walreg.Registry
	codec    *volume.Codec
	logger   zerolog.Logger
}

// New creates a rewriter resolving references against the given volume set.
func New(store metadata.Store, registry walreg.Registry, set *volume.Set) *Rewriter {
	return &Rewriter{
		store:    store,
		registry: registry,
		codec:    volume.NewCodec(set),
		logger:   log.WithComponent("rewriter"),
	}
}

// Rewrite scans the file references, tablet directories and WAL markers in
// the range and rewrites every row whose volume prefix exactly matches a
// rule's old prefix. Each row is committed as an atomic delete-old/insert-new
// pair. Rows already on a non-retired volume are untouched, so re-running a
// pass after a partial failure only processes what remains.
func (r *Rewriter) Rewrite(ctx context.Context, rng types.ScanRange, rules []types.ReplacementRule) (*types.RewriteReport, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RewriteDuration)

	ruleFor := make(map[string]string, len(rules))
	for _, rule := range rules {
		ruleFor[rule.Old] = rule.New
	}

	report := &types.RewriteReport{}

	genBefore, err := r.store.Generation()
	if err != nil {
		return report, err
	}

	dirs, err := r.rewriteTabletDirs(ctx, rng, ruleFor, report)
	if err != nil {
		return report, err
	}
	if err := r.rewriteFileRefs(ctx, rng, ruleFor, dirs, report); err != nil {
		return report, err
	}
	if err := r.rewriteWalMarkers(ctx, ruleFor, report); err != nil {
		return report, err
	}

	genAfter, err := r.store.Generation()
	if err != nil {
		return report, err
	}
	if genAfter != genBefore {
		metrics.RewriteConflictsTotal.Inc()
		return report, &RewriteConflictError{Before: genBefore, After: genAfter}
	}

	metrics.RewritePendingRows.Set(float64(report.Pending))
	r.logger.Info().Stringer("report", report).Msg("rewrite pass complete")
	return report, nil
}

// rewriteTabletDirs migrates directory rows and returns the post-rewrite
// directory per tablet, which later resolves relative file rows.
func (r *Rewriter) rewriteTabletDirs(ctx context.Context, rng types.ScanRange, ruleFor map[string]string, report *types.RewriteReport) (map[string]string, error) {
	type dirRewrite struct {
		extent types.KeyExtent
		newDir string
	}

	dirs := make(map[string]string)
	var matched []dirRewrite

	err := r.store.ScanTabletDirs(rng, func(extent types.KeyExtent, dir string) error {
		prefix, rel, err := r.codec.Decode(dir, "")
		if err != nil {
			return fmt.Errorf("tablet %s directory: %w", extent, err)
		}
		if next, ok := ruleFor[prefix]; ok {
			newDir := r.codec.Encode(next, rel, volume.ModeAbsolute)
			matched = append(matched, dirRewrite{extent: extent, newDir: newDir})
			dirs[extent.MetaRow()] = newDir
			return nil
		}
		dirs[extent.MetaRow()] = dir
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range matched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.store.ReplaceTabletDir(m.extent, m.newDir); err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				continue
			}
			return nil, err
		}
		report.DirsRewritten++
		metrics.RewriteRowsTotal.WithLabelValues("dir").Inc()
	}
	return dirs, nil
}

func (r *Rewriter) rewriteFileRefs(ctx context.Context, rng types.ScanRange, ruleFor map[string]string, dirs map[string]string, report *types.RewriteReport) error {
	var matched []*types.FileReference

	err := r.store.ScanFileRefs(rng, func(ref *types.FileReference) error {
		report.FilesScanned++

		contextPrefix := ""
		if dir, ok := dirs[ref.Extent.MetaRow()]; ok {
			p, _, err := r.codec.Decode(dir, "")
			if err != nil {
				return fmt.Errorf("tablet %s directory: %w", ref.Extent, err)
			}
			contextPrefix = p
		}

		// A relative row's volume is whatever Resolved recorded, not
		// the (possibly already rewritten) directory volume.
		target := ref.Path
		if ref.IsRelative() && ref.Resolved != "" {
			target = ref.Resolved
		}
		prefix, _, err := r.codec.Decode(target, contextPrefix)
		if err != nil {
			return fmt.Errorf("tablet %s: %w", ref.Extent, err)
		}
		if _, ok := ruleFor[prefix]; ok {
			copied := *ref
			matched = append(matched, &copied)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, old := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}

		contextPrefix := ""
		if dir, ok := dirs[old.Extent.MetaRow()]; ok {
			contextPrefix, _, _ = r.codec.Decode(dir, "")
		}
		target := old.Path
		if old.IsRelative() && old.Resolved != "" {
			target = old.Resolved
		}
		prefix, rel, err := r.codec.Decode(target, contextPrefix)
		if err != nil {
			return err
		}
		next := ruleFor[prefix]

		updated := *old
		if old.IsRelative() {
			// The qualifier stays relative; only the resolved
			// location follows the tablet directory's new volume.
			updated.Resolved = r.codec.Encode(next, rel, volume.ModeAbsolute)
		} else {
			updated.Path = r.codec.Encode(next, rel, volume.ModeAbsolute)
		}

		if err := r.store.ReplaceFileRef(old, &updated); err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				// Already rewritten by an earlier, partially
				// failed pass.
				continue
			}
			return err
		}
		report.FilesRewritten++
		metrics.RewriteRowsTotal.WithLabelValues("file").Inc()
	}
	return nil
}

func (r *Rewriter) rewriteWalMarkers(ctx context.Context, ruleFor map[string]string, report *types.RewriteReport) error {
	servers, err := r.registry.Servers()
	if err != nil {
		return err
	}

	for _, serverID := range servers {
		if err := ctx.Err(); err != nil {
			return err
		}

		markers, err := r.registry.List(serverID)
		if walreg.IsNoNode(err) {
			// WAL cleanup removed the server node mid-scan.
			continue
		}
		if err != nil {
			return err
		}

		for _, m := range markers {
			report.MarkersScanned++

			prefix, rel, err := r.codec.Decode(m.Path, "")
			if err != nil {
				return fmt.Errorf("server %s: %w", serverID, err)
			}
			next, ok := ruleFor[prefix]
			if !ok {
				continue
			}

			if m.State == types.WalStateOpen {
				// A server is still writing this log; it will
				// close and migrate on its own.
				report.Pending++
				continue
			}

			updated := *m
			updated.Path = r.codec.Encode(next, rel, volume.ModeAbsolute)
			// Insert before remove so the marker never vanishes
			// from the registry.
			if err := r.registry.PutMarker(&updated); err != nil {
				return err
			}
			if err := r.registry.Remove(serverID, m.Path); err != nil && !walreg.IsNoNode(err) {
				return err
			}
			report.MarkersRewritten++
			metrics.RewriteRowsTotal.WithLabelValues("marker").Inc()
		}
	}
	return nil
}
