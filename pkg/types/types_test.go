package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyExtentMetaRow(t *testing.T) {
	split := KeyExtent{TableID: "t1", EndRow: "m"}
	assert.Equal(t, "t1;m", split.MetaRow())

	last := KeyExtent{TableID: "t1"}
	assert.Equal(t, "t1<", last.MetaRow())

	// Split tablets sort before the last tablet.
	assert.Less(t, split.MetaRow(), last.MetaRow())
}

func TestTableRange(t *testing.T) {
	rng := TableRange("t1")

	assert.True(t, rng.Contains("t1;a"))
	assert.True(t, rng.Contains("t1<"))
	assert.False(t, rng.Contains("t1"))
	assert.False(t, rng.Contains("t2;a"))
	assert.False(t, rng.Contains("t2<"))

	assert.True(t, FullRange().Contains("anything"))
}

func TestFileReferenceLocation(t *testing.T) {
	abs := FileReference{Path: "file:///data/v1/tables/t1/t-0001/F0001.qf"}
	assert.False(t, abs.IsRelative())
	assert.Equal(t, abs.Path, abs.Location())

	rel := FileReference{
		Path:     "/tables/t1/t-0001/F0001.qf",
		Resolved: "file:///data/v1/tables/t1/t-0001/F0001.qf",
	}
	assert.True(t, rel.IsRelative())
	assert.Equal(t, rel.Resolved, rel.Location())
}

func TestRewriteReport(t *testing.T) {
	r := RewriteReport{FilesRewritten: 2, DirsRewritten: 1, MarkersRewritten: 3, Pending: 1}
	assert.Equal(t, 6, r.Rewritten())
	assert.Contains(t, r.String(), "pending 1")
}
