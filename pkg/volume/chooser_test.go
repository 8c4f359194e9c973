package volume

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomChooserDistribution(t *testing.T) {
	set, err := NewSet([]string{
		"file:///data/v1",
		"file:///data/v2",
		"file:///data/v3",
	}, nil)
	require.NoError(t, err)

	// With 3 volumes and 100 placements the odds of leaving one volume
	// empty are (2/3)^100, far below any flake threshold.
	chooser := NewRandomChooser()
	counts := make(map[string]int)
	for i := 0; i < 100; i++ {
		prefix, err := chooser.Choose(set, fmt.Sprintf("tablet-%d", i))
		require.NoError(t, err)
		require.True(t, set.Contains(prefix))
		counts[prefix]++
	}

	assert.Len(t, counts, 3)
	total := 0
	for prefix, n := range counts {
		assert.Greater(t, n, 0, "volume %s received no placements", prefix)
		total += n
	}
	assert.Equal(t, 100, total)
}

func TestRoundRobinChooser(t *testing.T) {
	set, err := NewSet([]string{"file:///data/v1", "file:///data/v2"}, nil)
	require.NoError(t, err)

	chooser := NewRoundRobinChooser()
	var got []string
	for i := 0; i < 4; i++ {
		prefix, err := chooser.Choose(set, "k")
		require.NoError(t, err)
		got = append(got, prefix)
	}
	assert.Equal(t, []string{
		"file:///data/v1", "file:///data/v2",
		"file:///data/v1", "file:///data/v2",
	}, got)
}

func TestChooserEmptySet(t *testing.T) {
	empty := &Set{}

	_, err := NewRandomChooser().Choose(empty, "k")
	assert.ErrorIs(t, err, ErrNoActiveVolumes)

	_, err = NewRoundRobinChooser().Choose(empty, "k")
	assert.ErrorIs(t, err, ErrNoActiveVolumes)
}
