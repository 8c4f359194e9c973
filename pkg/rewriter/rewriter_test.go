package rewriter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/metadata"
	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/volume"
	"github.com/quarrydb/quarry/pkg/walreg"
)

const (
	oldVol = "file:///data/v1"
	newVol = "file:///data/v2"
)

type rewriteEnv struct {
	store    *metadata.BoltStore
	registry *walreg.BoltRegistry
	set      *volume.Set
	rewriter *Rewriter
}

func newRewriteEnv(t *testing.T) *rewriteEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := metadata.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := walreg.NewBoltRegistry(dir)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	set, err := volume.NewSet(
		[]string{newVol},
		[]types.ReplacementRule{{Old: oldVol, New: newVol}},
	)
	require.NoError(t, err)

	return &rewriteEnv{
		store:    store,
		registry: registry,
		set:      set,
		rewriter: New(store, registry, set),
	}
}

func (e *rewriteEnv) rewrite(t *testing.T) *types.RewriteReport {
	t.Helper()
	report, err := e.rewriter.Rewrite(context.Background(), types.FullRange(), e.set.Rules())
	require.NoError(t, err)
	return report
}

func TestRewriteReplacesVolume(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, oldVol+"/tables/t1/t-0001"))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent: extent, Path: oldVol + "/tables/t1/t-0001/F0001.qf", Size: 100,
	}))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent: extent, Path: oldVol + "/tables/t1/t-0001/F0002.qf", Size: 200,
	}))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent: extent, Path: newVol + "/tables/t1/t-0001/F0003.qf", Size: 300,
	}))
	require.NoError(t, env.registry.PutMarker(&types.WalMarker{
		ServerID: "ts1", Path: oldVol + "/wal/ts1/w-0001", State: types.WalStateClosed,
	}))
	require.NoError(t, env.registry.PutMarker(&types.WalMarker{
		ServerID: "ts1", Path: oldVol + "/wal/ts1/w-0002", State: types.WalStateOpen,
	}))

	report := env.rewrite(t)
	assert.Equal(t, 1, report.DirsRewritten)
	assert.Equal(t, 3, report.FilesScanned)
	assert.Equal(t, 2, report.FilesRewritten)
	assert.Equal(t, 1, report.MarkersRewritten)
	assert.Equal(t, 1, report.Pending)

	dir, err := env.store.GetTabletDir(extent)
	require.NoError(t, err)
	assert.Equal(t, newVol+"/tables/t1/t-0001", dir)

	// No file row still points at the replaced volume.
	require.NoError(t, env.store.ScanFileRefs(types.FullRange(), func(ref *types.FileReference) error {
		assert.True(t, strings.HasPrefix(ref.Location(), newVol+"/"),
			"row %s still on replaced volume", ref.Path)
		return nil
	}))

	// The closed marker migrated; the open one stays until its writer
	// closes it.
	markers, err := env.registry.List("ts1")
	require.NoError(t, err)
	require.Len(t, markers, 2)
	var paths []string
	for _, m := range markers {
		paths = append(paths, m.Path)
	}
	assert.ElementsMatch(t, []string{
		newVol + "/wal/ts1/w-0001",
		oldVol + "/wal/ts1/w-0002",
	}, paths)
}

func TestRewriteIdempotent(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, oldVol+"/tables/t1/t-0001"))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent: extent, Path: oldVol + "/tables/t1/t-0001/F0001.qf",
	}))

	first := env.rewrite(t)
	assert.Equal(t, 2, first.Rewritten())

	second := env.rewrite(t)
	assert.Equal(t, 0, second.Rewritten())
	assert.Equal(t, 0, second.Pending)
}

func TestRewriteRelativeRows(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, oldVol+"/tables/t1/t-0001"))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent:   extent,
		Path:     "/tables/t1/t-0001/F0001.qf",
		Resolved: oldVol + "/tables/t1/t-0001/F0001.qf",
	}))

	report := env.rewrite(t)
	assert.Equal(t, 1, report.FilesRewritten)

	ref, err := env.store.GetFileRef(extent, "/tables/t1/t-0001/F0001.qf")
	require.NoError(t, err)
	assert.True(t, ref.IsRelative())
	assert.Equal(t, "/tables/t1/t-0001/F0001.qf", ref.Path)
	assert.Equal(t, newVol+"/tables/t1/t-0001/F0001.qf", ref.Resolved)
}

func TestRewriteUnresolvedReference(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, "hdfs://unknown:8020/q/tables/t1/t-0001"))

	_, err := env.rewriter.Rewrite(context.Background(), types.FullRange(), env.set.Rules())
	require.Error(t, err)
	assert.True(t, volume.IsUnresolved(err))
}

// splittingStore splits a tablet between the generation reads, simulating a
// structural change racing the pass.
type splittingStore struct {
	metadata.Store
	split     types.KeyExtent
	splitRow  string
	triggered bool
}

func (s *splittingStore) ScanFileRefs(rng types.ScanRange, fn func(*types.FileReference) error) error {
	if err := s.Store.ScanFileRefs(rng, fn); err != nil {
		return err
	}
	if !s.triggered {
		s.triggered = true
		return s.Store.SplitTablet(s.split, s.splitRow)
	}
	return nil
}

func TestRewriteConflictOnConcurrentSplit(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, oldVol+"/tables/t1/t-0001"))
	require.NoError(t, env.store.PutFileRef(&types.FileReference{
		Extent: extent, Path: oldVol + "/tables/t1/t-0001/F0001.qf",
	}))

	wrapped := &splittingStore{Store: env.store, split: extent, splitRow: "m"}
	r := New(wrapped, env.registry, env.set)

	_, err := r.Rewrite(context.Background(), types.FullRange(), env.set.Rules())
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	// The next pass sees a stable generation and finishes the job.
	report, err := r.Rewrite(context.Background(), types.FullRange(), env.set.Rules())
	require.NoError(t, err)
	require.NoError(t, env.store.ScanFileRefs(types.FullRange(), func(ref *types.FileReference) error {
		assert.True(t, strings.HasPrefix(ref.Location(), newVol+"/"))
		return nil
	}))
	_ = report
}

func TestRewriteCancellation(t *testing.T) {
	env := newRewriteEnv(t)
	extent := types.KeyExtent{TableID: "t1"}

	require.NoError(t, env.store.PutTabletDir(extent, oldVol+"/tables/t1/t-0001"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.rewriter.Rewrite(ctx, types.FullRange(), env.set.Rules())
	assert.ErrorIs(t, err, context.Canceled)
}
