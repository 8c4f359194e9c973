package initializer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/volume"
)

// InstanceIDDir is the well-known subpath under every volume root holding the
// instance-identity marker.
const InstanceIDDir = "instance_id"

// ErrNotInitialized means a volume carries no instance marker at all, which
// usually points at a typo in the volume list.
var ErrNotInitialized = errors.New("volume is not initialized")

// ForeignInstanceError means a volume already belongs to a different cluster
// instance. Reusing it would interleave two clusters' files, so this is fatal
// at initialization.
type ForeignInstanceError struct {
	Volume string
	Found  string
	Want   string
}

func (e *ForeignInstanceError) Error() string {
	return fmt.Sprintf("volume %s is marked for foreign instance %s (this instance is %s)",
		e.Volume, e.Found, e.Want)
}

// Initializer stamps volumes with the cluster's instance identity.
type Initializer struct {
	instanceID string
	logger     zerolog.Logger
}

// New creates an initializer for the given cluster instance id.
func New(instanceID string) *Initializer {
	return &Initializer{
		instanceID: instanceID,
		logger:     log.WithComponent("initializer"),
	}
}

// Initialize writes the instance marker under the volume root. Idempotent:
// a volume already bearing this instance's marker is a no-op success, while
// a marker for any other instance is a ForeignInstanceError.
func (i *Initializer) Initialize(prefix string) error {
	root, err := volume.LocalPath(prefix)
	if err != nil {
		return err
	}
	markerDir := filepath.Join(root, InstanceIDDir)

	if err := os.MkdirAll(markerDir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	found, err := readMarker(markerDir)
	if err != nil {
		return fmt.Errorf("failed to read markers under %s: %w", prefix, err)
	}

	switch found {
	case "":
		markerPath := filepath.Join(markerDir, i.instanceID)
		if err := os.WriteFile(markerPath, nil, 0644); err != nil {
			return fmt.Errorf("failed to write marker: %w", err)
		}
		i.logger.Info().Str("volume", prefix).Str("instance_id", i.instanceID).
			Msg("initialized volume")
		return nil
	case i.instanceID:
		i.logger.Debug().Str("volume", prefix).Msg("volume already initialized")
		return nil
	default:
		return &ForeignInstanceError{Volume: prefix, Found: found, Want: i.instanceID}
	}
}

// AddVolumes stamps every active volume in the set, so newly configured
// volumes are initialized before the cluster starts placing files on them.
func (i *Initializer) AddVolumes(set *volume.Set) error {
	for _, prefix := range set.Active() {
		if err := i.Initialize(prefix); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks that a volume carries exactly this instance's marker without
// writing anything.
func (i *Initializer) Verify(prefix string) error {
	root, err := volume.LocalPath(prefix)
	if err != nil {
		return err
	}

	found, err := readMarker(filepath.Join(root, InstanceIDDir))
	if err != nil {
		return fmt.Errorf("failed to read markers under %s: %w", prefix, err)
	}
	switch found {
	case "":
		return fmt.Errorf("volume %s: %w", prefix, ErrNotInitialized)
	case i.instanceID:
		return nil
	default:
		return &ForeignInstanceError{Volume: prefix, Found: found, Want: i.instanceID}
	}
}

// readMarker returns the single marker name under dir, "" when the directory
// is empty or missing, and an error when more than one marker exists.
func readMarker(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	switch len(entries) {
	case 0:
		return "", nil
	case 1:
		return entries[0].Name(), nil
	default:
		return "", fmt.Errorf("%d instance markers present", len(entries))
	}
}
