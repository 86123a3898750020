// Package blocklist implements the case-insensitive exact and parent-suffix
// domain matcher that gates every query before local records, cache, or
// upstream are consulted.
package blocklist

import (
	"strings"
	"sync"

	"github.com/duskwatch/gravastar/wire"
)

// Matcher holds an immutable snapshot of blocked domains, swapped atomically
// by SetDomains. Readers never observe a half-installed set.
type Matcher struct {
	mu      sync.RWMutex
	domains map[string]struct{}
}

// New returns an empty Matcher.
func New() *Matcher {
	return &Matcher{domains: make(map[string]struct{})}
}

// SetDomains replaces the installed set. The provided slice is copied into a
// fresh map before publication so later mutation by the caller is invisible.
func (m *Matcher) SetDomains(domains []string) {
	next := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		next[wire.CanonicalName(d)] = struct{}{}
	}

	m.mu.Lock()
	m.domains = next
	m.mu.Unlock()
}

// Len reports the number of installed domains.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains)
}

// IsBlocked reports whether name or any strict parent suffix of name (two or
// more labels) is present in the installed set.
func (m *Matcher) IsBlocked(name string) bool {
	m.mu.RLock()
	domains := m.domains
	m.mu.RUnlock()

	if len(domains) == 0 {
		return false
	}

	canon := wire.CanonicalName(name)
	if _, ok := domains[canon]; ok {
		return true
	}

	labels := strings.Split(canon, ".")
	if len(labels) < 2 {
		return false
	}

	for i := 1; i < len(labels)-1; i++ {
		suffix := strings.Join(labels[i:], ".")
		if _, ok := domains[suffix]; ok {
			return true
		}
	}
	return false
}
