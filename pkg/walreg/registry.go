package walreg

import (
	"errors"

	"github.com/quarrydb/quarry/pkg/types"
)

// ErrNoNode is returned when a registry node disappears between listing a
// server and reading its markers. WAL cleanup deletes nodes concurrently with
// scans, so observing this during a scan is a normal race, not a failure;
// callers retry the pass.
var ErrNoNode = errors.New("walreg: no such node")

// Registry is the external write-ahead-log location registry: markers keyed
// by the tablet-server identity that created them. Many servers write their
// own entries concurrently; the volume layer consults it read-only for
// placement verification, while the write half of the contract is exercised
// by the WAL subsystem (and by tests standing in for it).
type Registry interface {
	// PutMarker records a WAL file's location and state for a server.
	PutMarker(m *types.WalMarker) error

	// UpdateState transitions a marker's open/closed/unreferenced state.
	UpdateState(serverID, path string, state types.WalState) error

	// Remove deletes a marker, typically after the log is garbage
	// collected. Removing the server's last marker removes the server
	// node itself.
	Remove(serverID, path string) error

	// Servers lists the server identities currently holding markers.
	Servers() ([]string, error)

	// List returns the markers for one server. Returns ErrNoNode if the
	// server node was deleted, which a concurrent scan must tolerate.
	List(serverID string) ([]*types.WalMarker, error)

	Close() error
}

// IsNoNode reports whether err is the benign deleted-node race.
func IsNoNode(err error) bool {
	return errors.Is(err, ErrNoNode)
}
