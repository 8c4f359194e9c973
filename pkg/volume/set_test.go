package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/types"
)

func TestNewSet(t *testing.T) {
	tests := []struct {
		name    string
		active  []string
		rules   []types.ReplacementRule
		wantErr string
	}{
		{
			name:   "single volume",
			active: []string{"file:///data/v1"},
		},
		{
			name:   "multiple volumes",
			active: []string{"file:///data/v1", "file:///data/v2", "hdfs://nn:8020/quarry"},
		},
		{
			name:    "empty set",
			active:  nil,
			wantErr: "no active volumes",
		},
		{
			name:    "duplicate after normalization",
			active:  []string{"file:///data/v1", "file:///data/v1/"},
			wantErr: "duplicate volume",
		},
		{
			name:   "valid replacement",
			active: []string{"file:///data/v2"},
			rules: []types.ReplacementRule{
				{Old: "file:///data/v1", New: "file:///data/v2"},
			},
		},
		{
			name:   "replacement target not configured",
			active: []string{"file:///data/v2"},
			rules: []types.ReplacementRule{
				{Old: "file:///data/v1", New: "file:///data/v3"},
			},
			wantErr: "not a configured volume",
		},
		{
			name:   "replacement source still active",
			active: []string{"file:///data/v1", "file:///data/v2"},
			rules: []types.ReplacementRule{
				{Old: "file:///data/v1", New: "file:///data/v2"},
			},
			wantErr: "still configured as active",
		},
		{
			name:   "source in two rules",
			active: []string{"file:///data/v2", "file:///data/v3"},
			rules: []types.ReplacementRule{
				{Old: "file:///data/v1", New: "file:///data/v2"},
				{Old: "file:///data/v1", New: "file:///data/v3"},
			},
			wantErr: "more than one replacement rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewSet(tt.active, tt.rules)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.active), set.Size())
		})
	}
}

func TestSetNormalization(t *testing.T) {
	set, err := NewSet([]string{"file:///data/v1/"}, nil)
	require.NoError(t, err)

	assert.True(t, set.Contains("file:///data/v1"))
	assert.True(t, set.Contains("file:///data/v1/"))
	assert.Equal(t, []string{"file:///data/v1"}, set.Active())
}

func TestSetReplacement(t *testing.T) {
	set, err := NewSet(
		[]string{"file:///data/v2"},
		[]types.ReplacementRule{{Old: "file:///data/v1", New: "file:///data/v2"}},
	)
	require.NoError(t, err)

	next, ok := set.Replacement("file:///data/v1")
	assert.True(t, ok)
	assert.Equal(t, "file:///data/v2", next)

	_, ok = set.Replacement("file:///data/v9")
	assert.False(t, ok)

	assert.Equal(t, []string{"file:///data/v1"}, set.Retired())
	assert.Equal(t, []string{"file:///data/v2", "file:///data/v1"}, set.Known())
}

func TestSetRemove(t *testing.T) {
	set, err := NewSet([]string{"file:///data/v1", "file:///data/v2"}, nil)
	require.NoError(t, err)

	reduced, err := set.Remove("file:///data/v1")
	require.NoError(t, err)
	assert.Equal(t, 1, reduced.Size())
	assert.False(t, reduced.Contains("file:///data/v1"))

	// The original set is untouched.
	assert.Equal(t, 2, set.Size())

	_, err = reduced.Remove("file:///data/v2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveVolumes)

	_, err = set.Remove("file:///data/v9")
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	path, err := LocalPath("file:///data/v1")
	require.NoError(t, err)
	assert.Equal(t, "/data/v1", path)

	_, err = LocalPath("hdfs://nn:8020/quarry")
	assert.Error(t, err)
}
