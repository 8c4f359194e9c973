package types

import (
	"fmt"
	"strings"
	"time"
)

// KeyExtent identifies a tablet: a contiguous row range of a table. EndRow and
// PrevEndRow follow the usual convention where the empty string means
// unbounded on that side.
type KeyExtent struct {
	TableID    string `json:"table_id"`
	EndRow     string `json:"end_row"`
	PrevEndRow string `json:"prev_end_row"`
}

// MetaRow returns the row under which this tablet's metadata is stored.
// The last tablet of a table (unbounded end row) sorts after all split
// tablets by using the "<" terminator.
func (e KeyExtent) MetaRow() string {
	if e.EndRow == "" {
		return e.TableID + "<"
	}
	return e.TableID + ";" + e.EndRow
}

func (e KeyExtent) String() string {
	return e.MetaRow()
}

// TableRange returns the scan range covering every tablet of a table.
func TableRange(tableID string) ScanRange {
	return ScanRange{Start: tableID + ";", End: tableID + "<\x00"}
}

// FullRange covers the whole metadata table.
func FullRange() ScanRange {
	return ScanRange{}
}

// ScanRange bounds a metadata scan by tablet row. A zero ScanRange covers
// everything. End is exclusive.
type ScanRange struct {
	Start string
	End   string
}

// Contains reports whether the given metadata row falls inside the range.
func (r ScanRange) Contains(row string) bool {
	if r.Start != "" && row < r.Start {
		return false
	}
	if r.End != "" && row >= r.End {
		return false
	}
	return true
}

// FileReference is a metadata row mapping a tablet to one of its data files.
// Path is the persisted column qualifier: either a fully qualified reference
// (volume prefix + relative path) or a root-relative path when the owning
// table was offline during a move. Resolved carries the absolute location for
// relative rows; it is empty when Path is already absolute.
type FileReference struct {
	Extent   KeyExtent `json:"extent"`
	Path     string    `json:"path"`
	Resolved string    `json:"resolved,omitempty"`
	Size     int64     `json:"size"`
	Entries  int64     `json:"entries"`
}

// IsRelative reports whether the persisted path is root-relative, i.e. it
// carries no volume prefix of its own.
func (f *FileReference) IsRelative() bool {
	return !strings.Contains(f.Path, "://")
}

// Location returns the absolute location of the file, preferring the
// qualifier itself and falling back to the resolved value for relative rows.
func (f *FileReference) Location() string {
	if f.IsRelative() {
		return f.Resolved
	}
	return f.Path
}

// WalState is the lifecycle state of a write-ahead log file.
type WalState string

const (
	// WalStateOpen means a tablet server is currently writing the log.
	WalStateOpen WalState = "open"
	// WalStateClosed means the log is complete but may still be needed
	// for recovery.
	WalStateClosed WalState = "closed"
	// WalStateUnreferenced means no tablet depends on the log and it is
	// safe to delete.
	WalStateUnreferenced WalState = "unreferenced"
)

// WalMarker records the location and state of one write-ahead log, keyed by
// the server that created it. The volume layer only ever reads these; the WAL
// subsystem owns their lifecycle.
type WalMarker struct {
	ServerID  string    `json:"server_id"`
	Path      string    `json:"path"`
	State     WalState  `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VolumeState tracks a volume through decommissioning.
type VolumeState string

const (
	// VolumeStateActive volumes accept new file placements.
	VolumeStateActive VolumeState = "active"
	// VolumeStateDraining volumes are readable but receive no new writes;
	// existing references are being migrated off.
	VolumeStateDraining VolumeState = "draining"
	// VolumeStateRetired volumes hold no references and may be removed.
	VolumeStateRetired VolumeState = "retired"
)

// ReplacementRule maps a retired volume prefix to its successor. Rules are
// consumed by the metadata rewriter and are transient: once every matching
// row has been rewritten the rule no longer matches anything.
type ReplacementRule struct {
	Old string `json:"old" yaml:"old"`
	New string `json:"new" yaml:"new"`
}

func (r ReplacementRule) String() string {
	return fmt.Sprintf("%s -> %s", r.Old, r.New)
}

// RewriteReport summarizes one rewrite pass over the metadata and WAL ranges.
type RewriteReport struct {
	FilesScanned     int
	FilesRewritten   int
	DirsRewritten    int
	MarkersScanned   int
	MarkersRewritten int
	// Pending counts rows that matched a rule but could not be rewritten
	// yet, such as WAL markers still open for writing. They clear on a
	// later pass once the writer moves on.
	Pending int
}

// Rewritten returns the total number of rows changed by the pass.
func (r *RewriteReport) Rewritten() int {
	return r.FilesRewritten + r.DirsRewritten + r.MarkersRewritten
}

func (r *RewriteReport) String() string {
	return fmt.Sprintf("files %d/%d, dirs %d, markers %d/%d, pending %d",
		r.FilesRewritten, r.FilesScanned, r.DirsRewritten,
		r.MarkersRewritten, r.MarkersScanned, r.Pending)
}
