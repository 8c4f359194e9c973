package volume

import (
	"errors"
	"fmt"
)

// ErrNoActiveVolumes indicates the configured volume set is empty. This is a
// misconfiguration: the process must refuse to start rather than retry.
var ErrNoActiveVolumes = errors.New("no active volumes configured")

// UnresolvedVolumeError is returned when a persisted reference cannot be
// mapped to any known volume prefix, active or retired. The row's table is
// unusable until an operator supplies a replacement rule for the prefix.
type UnresolvedVolumeError struct {
	Ref string
}

func (e *UnresolvedVolumeError) Error() string {
	return fmt.Sprintf("reference %q does not match any known volume", e.Ref)
}

// IsUnresolved reports whether err is an UnresolvedVolumeError.
func IsUnresolved(err error) bool {
	var ue *UnresolvedVolumeError
	return errors.As(err, &ue)
}
