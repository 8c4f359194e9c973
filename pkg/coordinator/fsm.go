package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/quarrydb/quarry/pkg/types"
)

// VolumeFSM is the replicated state machine behind the coordinator: volume
// lifecycle states and the last rewrite checkpoint. Keeping these in the raft
// log means a leader failover resumes a draining volume exactly where the old
// leader left it.
type VolumeFSM struct {
	mu         sync.RWMutex
	states     map[string]types.VolumeState
	checkpoint *Checkpoint
}

// NewVolumeFSM creates an empty FSM.
func NewVolumeFSM() *VolumeFSM {
	return &VolumeFSM{states: make(map[string]types.VolumeState)}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// volumeStateChange is the payload of a set_volume_state command.
type volumeStateChange struct {
	Prefix string            `json:"prefix"`
	State  types.VolumeState `json:"state"`
}

// Checkpoint records the outcome of the last completed rewrite pass so an
// operator (or the next leader) can see what has already been migrated.
type Checkpoint struct {
	Rules       []types.ReplacementRule `json:"rules"`
	Rewritten   int                     `json:"rewritten"`
	Pending     int                     `json:"pending"`
	CompletedAt time.Time               `json:"completed_at"`
}

// Apply applies a Raft log entry to the FSM
func (f *VolumeFSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "set_volume_state":
		var change volumeStateChange
		if err := json.Unmarshal(cmd.Data, &change); err != nil {
			return err
		}
		f.states[change.Prefix] = change.State
		return nil

	case "record_checkpoint":
		var cp Checkpoint
		if err := json.Unmarshal(cmd.Data, &cp); err != nil {
			return err
		}
		f.checkpoint = &cp
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// State returns a volume's lifecycle state; unknown volumes are active.
func (f *VolumeFSM) State(prefix string) types.VolumeState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if st, ok := f.states[prefix]; ok {
		return st
	}
	return types.VolumeStateActive
}

// States returns a copy of every tracked volume state.
func (f *VolumeFSM) States() map[string]types.VolumeState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]types.VolumeState, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out
}

// LastCheckpoint returns the most recent rewrite checkpoint, if any.
func (f *VolumeFSM) LastCheckpoint() *Checkpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.checkpoint == nil {
		return nil
	}
	cp := *f.checkpoint
	return &cp
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *VolumeFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := &volumeSnapshot{
		States:     make(map[string]types.VolumeState, len(f.states)),
		Checkpoint: f.checkpoint,
	}
	for k, v := range f.states {
		snapshot.States[k] = v
	}
	return snapshot, nil
}

// Restore restores the FSM from a snapshot
func (f *VolumeFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot volumeSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = snapshot.States
	if f.states == nil {
		f.states = make(map[string]types.VolumeState)
	}
	f.checkpoint = snapshot.Checkpoint
	return nil
}

// volumeSnapshot represents a point-in-time snapshot of coordinator state
type volumeSnapshot struct {
	States     map[string]types.VolumeState `json:"states"`
	Checkpoint *Checkpoint                  `json:"checkpoint,omitempty"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *volumeSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases the snapshot resources
func (s *volumeSnapshot) Release() {}
