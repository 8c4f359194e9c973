package volume

import (
	"sort"
	"strings"
)

// Mode selects how a file reference is persisted.
type Mode int

const (
	// ModeAbsolute stores the volume prefix and relative path concatenated.
	ModeAbsolute Mode = iota
	// ModeRelative stores the bare path; the volume is implied by context
	// (the tablet's directory volume). Used while a table is offline so
	// its files can be moved without rewriting every row.
	ModeRelative
)

// Codec converts between canonical (volume prefix, relative path) pairs and
// their persisted string form. Decoding resolves the prefix by longest match
// against every prefix the set knows about, active and retired, so references
// to volumes that have since been replaced still decode.
type Codec struct {
	// prefixes sorted longest first so nested roots resolve correctly.
	prefixes []string
}

// NewCodec builds a codec over the set's known prefixes.
func NewCodec(set *Set) *Codec {
	prefixes := set.Known()
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	return &Codec{prefixes: prefixes}
}

// Encode produces the persisted form of a file reference.
func (c *Codec) Encode(prefix, rel string, mode Mode) string {
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	if mode == ModeRelative {
		return rel
	}
	return normalizePrefix(prefix) + rel
}

// Decode recovers the (prefix, relative path) pair from a persisted
// reference. Relative references resolve against contextPrefix, the volume of
// the owning tablet's directory. An absolute reference whose prefix matches
// no known volume, or a relative reference with no context, is an
// UnresolvedVolumeError.
func (c *Codec) Decode(ref, contextPrefix string) (prefix, rel string, err error) {
	if !strings.Contains(ref, "://") {
		if contextPrefix == "" {
			return "", "", &UnresolvedVolumeError{Ref: ref}
		}
		if !strings.HasPrefix(ref, "/") {
			ref = "/" + ref
		}
		return normalizePrefix(contextPrefix), ref, nil
	}

	for _, p := range c.prefixes {
		if strings.HasPrefix(ref, p+"/") {
			return p, ref[len(p):], nil
		}
	}
	return "", "", &UnresolvedVolumeError{Ref: ref}
}
