package placement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/metadata"
	"github.com/quarrydb/quarry/pkg/metrics"
	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/volume"
	"github.com/quarrydb/quarry/pkg/walreg"
)

// Placer is the write path of the volume layer: every new tablet directory,
// data file and write-ahead log gets its volume from the chooser and its
// persisted reference from the codec. A Placer holds only the immutable
// volume set, so any number of them can run concurrently across tablet
// servers.
type Placer struct {
	set      *volume.Set
	chooser  volume.Chooser
	codec    *volume.Codec
	store    metadata.Store
	registry walreg.Registry
	logger   zerolog.Logger
}

// New creates a placer over the given topology. A nil chooser defaults to
// uniform random placement.
func New(set *volume.Set, chooser volume.Chooser, store metadata.Store, registry walreg.Registry) *Placer {
	if chooser == nil {
		chooser = volume.NewRandomChooser()
	}
	return &Placer{
		set:      set,
		chooser:  chooser,
		codec:    volume.NewCodec(set),
		store:    store,
		registry: registry,
		logger:   log.WithComponent("placement"),
	}
}

// CreateTablet picks a volume for a new tablet's directory and persists the
// directory row.
func (p *Placer) CreateTablet(extent types.KeyExtent) error {
	prefix, err := p.chooser.Choose(p.set, extent.MetaRow())
	if err != nil {
		return err
	}

	rel := fmt.Sprintf("/tables/%s/t-%s", extent.TableID, uuid.New().String())
	dir := p.codec.Encode(prefix, rel, volume.ModeAbsolute)
	if err := p.store.PutTabletDir(extent, dir); err != nil {
		return fmt.Errorf("failed to create tablet %s: %w", extent, err)
	}
	return nil
}

// PlaceFile allocates a new data file for a tablet flush or compaction:
// one volume chosen per file, the tablet's relative directory kept so the
// file sits beside its siblings on whichever volume won.
func (p *Placer) PlaceFile(extent types.KeyExtent, size, entries int64) (*types.FileReference, error) {
	prefix, err := p.chooser.Choose(p.set, extent.MetaRow())
	if err != nil {
		metrics.PlacementErrorsTotal.Inc()
		return nil, err
	}

	dir, err := p.store.GetTabletDir(extent)
	if err != nil {
		metrics.PlacementErrorsTotal.Inc()
		return nil, err
	}
	_, relDir, err := p.codec.Decode(dir, "")
	if err != nil {
		metrics.PlacementErrorsTotal.Inc()
		return nil, err
	}

	ref := &types.FileReference{
		Extent:  extent,
		Path:    p.codec.Encode(prefix, relDir+"/F"+uuid.New().String()+".qf", volume.ModeAbsolute),
		Size:    size,
		Entries: entries,
	}
	if err := p.store.PutFileRef(ref); err != nil {
		metrics.PlacementErrorsTotal.Inc()
		return nil, err
	}

	metrics.FilesPlacedTotal.WithLabelValues(prefix).Inc()
	return ref, nil
}

// PlaceWal picks a volume for a new write-ahead log and records its open
// marker in the registry.
func (p *Placer) PlaceWal(serverID string) (*types.WalMarker, error) {
	prefix, err := p.chooser.Choose(p.set, serverID)
	if err != nil {
		return nil, err
	}

	marker := &types.WalMarker{
		ServerID: serverID,
		Path:     p.codec.Encode(prefix, "/wal/"+serverID+"/"+uuid.New().String(), volume.ModeAbsolute),
		State:    types.WalStateOpen,
	}
	if err := p.registry.PutMarker(marker); err != nil {
		return nil, err
	}
	return marker, nil
}

// Compact replaces a tablet's files with one freshly placed file, the way a
// full compaction naturally migrates data onto the current volume set. The
// new reference is inserted before the superseded rows are deleted, so the
// tablet never appears fileless to a reader. A tablet whose directory sits on
// a volume no longer in the set gets its directory re-placed too.
func (p *Placer) Compact(ctx context.Context, extent types.KeyExtent) (*types.FileReference, error) {
	var olds []*types.FileReference
	var size, entries int64
	err := p.store.ScanFileRefs(tabletRange(extent), func(ref *types.FileReference) error {
		copied := *ref
		olds = append(olds, &copied)
		size += ref.Size
		entries += ref.Entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := p.PlaceFile(extent, size, entries)
	if err != nil {
		return nil, err
	}

	for _, old := range olds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.store.DeleteFileRef(old.Extent, old.Path); err != nil {
			return nil, err
		}
	}

	dir, err := p.store.GetTabletDir(extent)
	if err != nil {
		return nil, err
	}
	if dirPrefix, _, err := p.codec.Decode(dir, ""); err != nil || !p.set.Contains(dirPrefix) {
		prefix, cerr := p.chooser.Choose(p.set, extent.MetaRow())
		if cerr != nil {
			return nil, cerr
		}
		rel := fmt.Sprintf("/tables/%s/t-%s", extent.TableID, uuid.New().String())
		if err := p.store.ReplaceTabletDir(extent, p.codec.Encode(prefix, rel, volume.ModeAbsolute)); err != nil {
			return nil, err
		}
	}

	return updated, nil
}

// CompactTable compacts every tablet of a table.
func (p *Placer) CompactTable(ctx context.Context, tableID string) error {
	var extents []types.KeyExtent
	err := p.store.ScanTabletDirs(types.TableRange(tableID), func(extent types.KeyExtent, _ string) error {
		extents = append(extents, extent)
		return nil
	})
	if err != nil {
		return err
	}

	for _, extent := range extents {
		if _, err := p.Compact(ctx, extent); err != nil {
			return fmt.Errorf("failed to compact %s: %w", extent, err)
		}
	}
	return nil
}

// MakeRelative rewrites a table's absolute file qualifiers to root-relative
// form, preserving the resolved location in the row value. Done while the
// table is offline so its files can be moved wholesale; the next compaction
// restores absolute qualifiers.
func (p *Placer) MakeRelative(tableID string) (int, error) {
	var matched []*types.FileReference
	err := p.store.ScanFileRefs(types.TableRange(tableID), func(ref *types.FileReference) error {
		if !ref.IsRelative() {
			copied := *ref
			matched = append(matched, &copied)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, old := range matched {
		_, rel, err := p.codec.Decode(old.Path, "")
		if err != nil {
			return 0, err
		}
		updated := *old
		updated.Path = p.codec.Encode("", rel, volume.ModeRelative)
		updated.Resolved = old.Path
		if err := p.store.ReplaceFileRef(old, &updated); err != nil {
			return 0, err
		}
	}
	return len(matched), nil
}

func tabletRange(extent types.KeyExtent) types.ScanRange {
	row := extent.MetaRow()
	return types.ScanRange{Start: row, End: row + "\x00"}
}
