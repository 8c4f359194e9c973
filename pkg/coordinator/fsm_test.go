package coordinator

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/types"
)

func applyCommand(t *testing.T, fsm *VolumeFSM, op string, payload interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd, err := json.Marshal(&Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmd})
}

func TestFSMVolumeStates(t *testing.T) {
	fsm := NewVolumeFSM()

	// Untracked volumes are active.
	assert.Equal(t, types.VolumeStateActive, fsm.State("file:///data/v1"))

	resp := applyCommand(t, fsm, "set_volume_state",
		&volumeStateChange{Prefix: "file:///data/v1", State: types.VolumeStateDraining})
	assert.Nil(t, resp)
	assert.Equal(t, types.VolumeStateDraining, fsm.State("file:///data/v1"))

	applyCommand(t, fsm, "set_volume_state",
		&volumeStateChange{Prefix: "file:///data/v1", State: types.VolumeStateRetired})
	assert.Equal(t, types.VolumeStateRetired, fsm.State("file:///data/v1"))

	states := fsm.States()
	assert.Len(t, states, 1)
}

func TestFSMCheckpoint(t *testing.T) {
	fsm := NewVolumeFSM()
	assert.Nil(t, fsm.LastCheckpoint())

	cp := &Checkpoint{
		Rules:       []types.ReplacementRule{{Old: "file:///data/v1", New: "file:///data/v2"}},
		Rewritten:   42,
		Pending:     1,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}
	resp := applyCommand(t, fsm, "record_checkpoint", cp)
	assert.Nil(t, resp)

	got := fsm.LastCheckpoint()
	require.NotNil(t, got)
	assert.Equal(t, 42, got.Rewritten)
	assert.Equal(t, cp.Rules, got.Rules)
}

func TestFSMUnknownCommand(t *testing.T) {
	fsm := NewVolumeFSM()
	resp := applyCommand(t, fsm, "frobnicate", struct{}{})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "unknown command")
}

// bufferSink captures a snapshot in memory.
type bufferSink struct {
	bytes.Buffer
	canceled bool
}

func (s *bufferSink) Close() error  { return nil }
func (s *bufferSink) Cancel() error { s.canceled = true; return nil }
func (s *bufferSink) ID() string    { return "test" }

func TestFSMSnapshotRestore(t *testing.T) {
	fsm := NewVolumeFSM()
	applyCommand(t, fsm, "set_volume_state",
		&volumeStateChange{Prefix: "file:///data/v1", State: types.VolumeStateDraining})
	applyCommand(t, fsm, "record_checkpoint", &Checkpoint{Rewritten: 7})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.False(t, sink.canceled)

	restored := NewVolumeFSM()
	require.NoError(t, restored.Restore(io.NopCloser(&sink.Buffer)))

	assert.Equal(t, types.VolumeStateDraining, restored.State("file:///data/v1"))
	cp := restored.LastCheckpoint()
	require.NotNil(t, cp)
	assert.Equal(t, 7, cp.Rewritten)
}
