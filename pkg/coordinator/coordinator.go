package coordinator

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/types"
)

const applyTimeout = 10 * time.Second

// Coordinator is the single process allowed to run rewrite and decommission
// passes. It holds that role through raft leader election, and replicates the
// volume lifecycle states through the VolumeFSM so they survive failover.
type Coordinator struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *VolumeFSM
	logger zerolog.Logger
}

// Config holds configuration for creating a Coordinator
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// New creates a Coordinator instance
func New(cfg *Config) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	return &Coordinator{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewVolumeFSM(),
		logger:   log.WithComponent("coordinator"),
	}, nil
}

// Bootstrap initializes a new single-node Raft cluster
func (c *Coordinator) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(c.nodeID)
	config.LogOutput = os.Stderr

	// Rewrite passes tolerate short leadership gaps, so favor quick
	// failover over WAN-safe defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	// Setup Raft communication
	addr, err := net.ResolveTCPAddr("tcp", c.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(c.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %v", err)
	}

	// Create snapshot store
	snapshotStore, err := raft.NewFileSnapshotStore(c.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %v", err)
	}

	// Create log store and stable store using BoltDB
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %v", err)
	}

	// Create Raft instance
	r, err := raft.NewRaft(config, c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	c.raft = r

	// Bootstrap cluster with this node as the only member
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := c.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	c.logger.Info().Str("node_id", c.nodeID).Str("bind_addr", c.bindAddr).
		Msg("coordinator bootstrapped")
	return nil
}

// IsLeader reports whether this coordinator currently holds the rewrite role.
func (c *Coordinator) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// WaitForLeader blocks until some coordinator wins the election or the
// timeout passes.
func (c *Coordinator) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr, _ := c.raft.LeaderWithID(); addr != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no coordinator elected within %v", timeout)
}

// apply replicates a command through the raft log.
func (c *Coordinator) apply(op string, payload interface{}) error {
	if !c.IsLeader() {
		return fmt.Errorf("not the coordinator leader")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cmd, err := json.Marshal(&Command{Op: op, Data: data})
	if err != nil {
		return err
	}

	future := c.raft.Apply(cmd, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply %s: %w", op, err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// SetVolumeState replicates a volume lifecycle transition. Together with
// VolumeState this implements the decommissioner's StateStore.
func (c *Coordinator) SetVolumeState(prefix string, state types.VolumeState) error {
	return c.apply("set_volume_state", &volumeStateChange{Prefix: prefix, State: state})
}

// VolumeState returns a volume's replicated lifecycle state.
func (c *Coordinator) VolumeState(prefix string) (types.VolumeState, error) {
	return c.fsm.State(prefix), nil
}

// VolumeStates returns every tracked volume state.
func (c *Coordinator) VolumeStates() map[string]types.VolumeState {
	return c.fsm.States()
}

// RecordCheckpoint replicates the outcome of a completed rewrite pass.
func (c *Coordinator) RecordCheckpoint(rules []types.ReplacementRule, report *types.RewriteReport) error {
	return c.apply("record_checkpoint", &Checkpoint{
		Rules:       rules,
		Rewritten:   report.Rewritten(),
		Pending:     report.Pending,
		CompletedAt: time.Now().UTC(),
	})
}

// LastCheckpoint returns the most recent replicated rewrite checkpoint.
func (c *Coordinator) LastCheckpoint() *Checkpoint {
	return c.fsm.LastCheckpoint()
}

// Shutdown stops the raft node.
func (c *Coordinator) Shutdown() error {
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}
