// Package types defines the shared domain types of the quarry volume layer:
// tablet extents, file references, WAL markers, replacement rules and the
// volume lifecycle states. It has no dependencies on other quarry packages so
// every component can exchange these values freely.
package types
