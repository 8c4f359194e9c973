package metadata

import (
	"errors"

	"github.com/quarrydb/quarry/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("metadata: row not found")

	// ErrStop can be returned from a scan callback to end the scan early
	// without error.
	ErrStop = errors.New("metadata: stop scan")
)

// Store is the metadata table as the volume layer sees it: file-reference
// rows and tablet directory rows keyed by tablet extent. It is the single
// source of truth for file locations; the volume layer keeps no cache beyond
// what it reads per operation.
//
// Replace operations apply the delete-old/insert-new pair as one atomic unit:
// a concurrent reader observes either the old row or the new one, never
// neither and never both.
type Store interface {
	// File references.
	PutFileRef(ref *types.FileReference) error
	GetFileRef(extent types.KeyExtent, path string) (*types.FileReference, error)
	DeleteFileRef(extent types.KeyExtent, path string) error
	ReplaceFileRef(old, updated *types.FileReference) error
	ScanFileRefs(rng types.ScanRange, fn func(*types.FileReference) error) error

	// Tablet directories (the srv:dir column).
	PutTabletDir(extent types.KeyExtent, dir string) error
	GetTabletDir(extent types.KeyExtent) (string, error)
	ReplaceTabletDir(extent types.KeyExtent, newDir string) error
	ScanTabletDirs(rng types.ScanRange, fn func(types.KeyExtent, string) error) error

	// SplitTablet replaces a tablet with two children at splitRow. Both
	// children inherit the parent's files and directory. Bumps the
	// structural generation.
	SplitTablet(extent types.KeyExtent, splitRow string) error

	// Generation is a counter bumped by every structural change (split,
	// merge). Scans that must not race a structural change compare it
	// before and after.
	Generation() (uint64, error)

	Close() error
}
