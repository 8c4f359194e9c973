package walreg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/types"
)

func newTestRegistry(t *testing.T) *BoltRegistry {
	t.Helper()
	reg, err := NewBoltRegistry(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func marker(serverID, path string, state types.WalState) *types.WalMarker {
	return &types.WalMarker{
		ServerID:  serverID,
		Path:      path,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.PutMarker(marker("ts1", "file:///data/v1/wal/ts1/w-0001", types.WalStateOpen)))
	require.NoError(t, reg.PutMarker(marker("ts1", "file:///data/v1/wal/ts1/w-0002", types.WalStateClosed)))
	require.NoError(t, reg.PutMarker(marker("ts2", "file:///data/v2/wal/ts2/w-0001", types.WalStateOpen)))

	servers, err := reg.Servers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ts1", "ts2"}, servers)

	markers, err := reg.List("ts1")
	require.NoError(t, err)
	assert.Len(t, markers, 2)

	require.NoError(t, reg.UpdateState("ts1", "file:///data/v1/wal/ts1/w-0001", types.WalStateUnreferenced))
	markers, err = reg.List("ts1")
	require.NoError(t, err)
	for _, m := range markers {
		if m.Path == "file:///data/v1/wal/ts1/w-0001" {
			assert.Equal(t, types.WalStateUnreferenced, m.State)
		}
	}
}

func TestRegistryNodeRemoval(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.PutMarker(marker("ts1", "file:///data/v1/wal/ts1/w-0001", types.WalStateClosed)))
	require.NoError(t, reg.Remove("ts1", "file:///data/v1/wal/ts1/w-0001"))

	// Removing the last marker removes the server node itself, so a scan
	// that listed ts1 moments earlier now hits the deleted-node race.
	_, err := reg.List("ts1")
	require.Error(t, err)
	assert.True(t, IsNoNode(err))

	servers, err := reg.Servers()
	require.NoError(t, err)
	assert.Empty(t, servers)

	err = reg.Remove("ts1", "file:///data/v1/wal/ts1/w-0001")
	assert.True(t, IsNoNode(err))

	err = reg.UpdateState("ts1", "file:///data/v1/wal/ts1/w-0001", types.WalStateClosed)
	assert.True(t, IsNoNode(err))
}
