package decommission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/metadata"
	"github.com/quarrydb/quarry/pkg/metrics"
	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/volume"
	"github.com/quarrydb/quarry/pkg/walreg"
)

// StateStore persists volume lifecycle states across restarts and leader
// failover. The coordinator's replicated FSM implements it in production.
type StateStore interface {
	VolumeState(prefix string) (types.VolumeState, error)
	SetVolumeState(prefix string, state types.VolumeState) error
}

// MemoryStateStore is an in-process StateStore for single-node deployments
// and tests. Unknown volumes report as active.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]types.VolumeState
}

// NewMemoryStateStore creates an empty state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]types.VolumeState)}
}

func (m *MemoryStateStore) VolumeState(prefix string) (types.VolumeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[prefix]; ok {
		return st, nil
	}
	return types.VolumeStateActive, nil
}

func (m *MemoryStateStore) SetVolumeState(prefix string, state types.VolumeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[prefix] = state
	return nil
}

// ResidualReferencesError reports that a draining volume is still referenced.
// It is a retried condition, not a failure: residuals normally clear once
// pending compactions or a rewrite pass finish, so the volume simply stays
// in Draining.
type ResidualReferencesError struct {
	Volume  string
	Files   int
	Dirs    int
	Markers int
}

func (e *ResidualReferencesError) Error() string {
	return fmt.Sprintf("volume %s still referenced by %d files, %d tablet dirs, %d wal markers",
		e.Volume, e.Files, e.Dirs, e.Markers)
}

// Total returns the residual reference count.
func (e *ResidualReferencesError) Total() int {
	return e.Files + e.Dirs + e.Markers
}

// IsResidual reports whether err is a ResidualReferencesError.
func IsResidual(err error) bool {
	var re *ResidualReferencesError
	return errors.As(err, &re)
}

// Decommissioner drives a volume through Active → Draining → Retired.
// Draining excludes the volume from new placements while its existing files
// stay readable; Retired asserts nothing references it anymore. The
// underlying files are never deleted here.
type Decommissioner struct {
	store    metadata.Store
	registry walreg.Registry
	states   StateStore
	policy   walreg.RetryPolicy
	logger   zerolog.Logger
}

// New creates a decommissioner. The retry policy covers the WAL registry's
// deleted-node races during verification scans.
func New(store metadata.Store, registry walreg.Registry, states StateStore, policy walreg.RetryPolicy) *Decommissioner {
	return &Decommissioner{
		store:    store,
		registry: registry,
		states:   states,
		policy:   policy,
		logger:   log.WithComponent("decommission"),
	}
}

// Begin removes the volume from the active set and marks it Draining. The
// returned set is what the volume choosers must use from now on. Calling
// Begin for a volume already draining returns the reduced set again.
func (d *Decommissioner) Begin(set *volume.Set, prefix string) (*volume.Set, error) {
	state, err := d.states.VolumeState(prefix)
	if err != nil {
		return nil, err
	}
	if state == types.VolumeStateRetired {
		return nil, fmt.Errorf("volume %s is already retired", prefix)
	}

	if set.Contains(prefix) {
		if set, err = set.Remove(prefix); err != nil {
			return nil, err
		}
	}

	if state != types.VolumeStateDraining {
		if err := d.states.SetVolumeState(prefix, types.VolumeStateDraining); err != nil {
			return nil, err
		}
		metrics.VolumesByState.WithLabelValues(string(types.VolumeStateDraining)).Inc()
		d.logger.Info().Str("volume", prefix).Msg("volume draining, excluded from placement")
	}
	return set, nil
}

// Verify re-scans the full metadata table and WAL registry for references to
// the draining volume. Zero residuals transition it to Retired; otherwise the
// volume stays Draining and the residual counts are returned as a
// ResidualReferencesError. Registry node-deletion races are retried under the
// configured policy, whole passes at a time, until the registry stabilizes.
func (d *Decommissioner) Verify(ctx context.Context, prefix string) error {
	state, err := d.states.VolumeState(prefix)
	if err != nil {
		return err
	}
	switch state {
	case types.VolumeStateRetired:
		return nil
	case types.VolumeStateActive:
		return fmt.Errorf("volume %s is active; begin decommission first", prefix)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.VerificationDuration)

	var residual *ResidualReferencesError
	err = d.policy.Do(ctx, func() error {
		found, err := d.countResiduals(prefix)
		if err != nil {
			return err
		}
		residual = found
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ResidualReferences.WithLabelValues(prefix).Set(float64(residual.Total()))
	if residual.Total() > 0 {
		d.logger.Warn().Str("volume", prefix).Int("files", residual.Files).
			Int("dirs", residual.Dirs).Int("markers", residual.Markers).
			Msg("residual references, volume stays draining")
		return residual
	}

	if err := d.states.SetVolumeState(prefix, types.VolumeStateRetired); err != nil {
		return err
	}
	metrics.VolumesByState.WithLabelValues(string(types.VolumeStateRetired)).Inc()
	d.logger.Info().Str("volume", prefix).Msg("volume retired, safe to remove")
	return nil
}

// WaitRetired polls Verify until the volume retires or ctx expires. Residual
// references just mean another wait; any other error aborts.
func (d *Decommissioner) WaitRetired(ctx context.Context, prefix string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := d.Verify(ctx, prefix)
		if err == nil {
			return nil
		}
		if !IsResidual(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// State returns the volume's lifecycle state.
func (d *Decommissioner) State(prefix string) (types.VolumeState, error) {
	return d.states.VolumeState(prefix)
}

func (d *Decommissioner) countResiduals(prefix string) (*ResidualReferencesError, error) {
	residual := &ResidualReferencesError{Volume: prefix}

	err := d.store.ScanFileRefs(types.FullRange(), func(ref *types.FileReference) error {
		if matchesVolume(ref.Location(), prefix) {
			residual.Files++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = d.store.ScanTabletDirs(types.FullRange(), func(_ types.KeyExtent, dir string) error {
		if matchesVolume(dir, prefix) {
			residual.Dirs++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	servers, err := d.registry.Servers()
	if err != nil {
		return nil, err
	}
	for _, serverID := range servers {
		markers, err := d.registry.List(serverID)
		if err != nil {
			// Includes the deleted-node race, which the retry
			// policy re-runs the whole pass for.
			return nil, err
		}
		for _, m := range markers {
			if matchesVolume(m.Path, prefix) {
				residual.Markers++
			}
		}
	}

	return residual, nil
}

func matchesVolume(location, prefix string) bool {
	return location == prefix || strings.HasPrefix(location, prefix+"/")
}
