package volume

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/quarrydb/quarry/pkg/types"
)

// Set is an immutable snapshot of the configured volume topology: the ordered
// active volume roots plus the retired-prefix replacement rules from the last
// reconfiguration. A Set is built once per configuration load and never
// mutated; topology changes produce a new Set.
type Set struct {
	active       []string
	replacements map[string]string
}

// NewSet validates and builds a volume set. Active prefixes are normalized
// (trailing slashes stripped) and must be unique. Every replacement target
// must itself be an active volume, a replacement source must not be active,
// and a source may appear in at most one rule.
func NewSet(active []string, rules []types.ReplacementRule) (*Set, error) {
	if len(active) == 0 {
		return nil, ErrNoActiveVolumes
	}

	norm := make([]string, 0, len(active))
	seen := make(map[string]bool, len(active))
	for _, p := range active {
		p = normalizePrefix(p)
		if p == "" {
			return nil, fmt.Errorf("empty volume prefix")
		}
		if seen[p] {
			return nil, fmt.Errorf("duplicate volume %s", p)
		}
		seen[p] = true
		norm = append(norm, p)
	}

	repl := make(map[string]string, len(rules))
	for _, r := range rules {
		old := normalizePrefix(r.Old)
		next := normalizePrefix(r.New)
		if old == "" || next == "" {
			return nil, fmt.Errorf("invalid replacement rule %q", r)
		}
		if _, dup := repl[old]; dup {
			return nil, fmt.Errorf("volume %s appears in more than one replacement rule", old)
		}
		if seen[old] {
			return nil, fmt.Errorf("replaced volume %s is still configured as active", old)
		}
		if !seen[next] {
			return nil, fmt.Errorf("replacement target %s is not a configured volume", next)
		}
		repl[old] = next
	}

	return &Set{active: norm, replacements: repl}, nil
}

// Active returns the active volume prefixes in configuration order.
func (s *Set) Active() []string {
	out := make([]string, len(s.active))
	copy(out, s.active)
	return out
}

// Size returns the number of active volumes.
func (s *Set) Size() int {
	return len(s.active)
}

// Contains reports whether prefix is an active volume.
func (s *Set) Contains(prefix string) bool {
	prefix = normalizePrefix(prefix)
	for _, p := range s.active {
		if p == prefix {
			return true
		}
	}
	return false
}

// Replacement returns the successor for a retired prefix, if one is
// configured.
func (s *Set) Replacement(oldPrefix string) (string, bool) {
	next, ok := s.replacements[normalizePrefix(oldPrefix)]
	return next, ok
}

// Retired returns the retired prefixes (replacement rule sources), sorted.
func (s *Set) Retired() []string {
	out := make([]string, 0, len(s.replacements))
	for p := range s.replacements {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Rules returns the replacement rules, sorted by source prefix.
func (s *Set) Rules() []types.ReplacementRule {
	out := make([]types.ReplacementRule, 0, len(s.replacements))
	for _, old := range s.Retired() {
		out = append(out, types.ReplacementRule{Old: old, New: s.replacements[old]})
	}
	return out
}

// Known returns every prefix this set can resolve references against:
// active volumes first, then retired ones.
func (s *Set) Known() []string {
	out := make([]string, 0, len(s.active)+len(s.replacements))
	out = append(out, s.active...)
	out = append(out, s.Retired()...)
	return out
}

// Remove returns a new set without the given active volume, used when a
// volume begins draining. Removing the last volume is refused.
func (s *Set) Remove(prefix string) (*Set, error) {
	prefix = normalizePrefix(prefix)
	if !s.Contains(prefix) {
		return nil, fmt.Errorf("volume %s is not active", prefix)
	}
	if len(s.active) == 1 {
		return nil, fmt.Errorf("cannot remove %s: %w", prefix, ErrNoActiveVolumes)
	}

	remaining := make([]string, 0, len(s.active)-1)
	for _, p := range s.active {
		if p != prefix {
			remaining = append(remaining, p)
		}
	}
	return NewSet(remaining, s.Rules())
}

// LocalPath converts a file:// volume prefix to its local filesystem path.
func LocalPath(prefix string) (string, error) {
	u, err := url.Parse(prefix)
	if err != nil {
		return "", fmt.Errorf("invalid volume prefix %s: %w", prefix, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("volume %s is not a local filesystem volume", prefix)
	}
	return u.Path, nil
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	for len(p) > 0 && strings.HasSuffix(p, "/") && !strings.HasSuffix(p, "://") {
		p = p[:len(p)-1]
	}
	return p
}
