// Package records implements the local-records table: a keyed lookup of
// (canonical name, qtype) to an operator-supplied value, loaded wholesale
// from config and consulted by the resolver ahead of the cache.
package records

import (
	"strconv"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/duskwatch/gravastar/wire"
)

// Record is a single local-records entry as loaded from config.
type Record struct {
	Name  string
	Type  string // case-insensitive: A, AAAA, CNAME, PTR, TXT, MX
	Value string
}

type entry struct {
	value string
	rtype uint16
}

// Table is a snapshot-replaced lookup table, rebuilt wholesale on every Load.
type Table struct {
	mu   sync.RWMutex
	byID map[string]entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{byID: make(map[string]entry)}
}

// supportedTypes restricts dns.StringToType (which covers the whole RR
// universe) down to the six types gravastar's local-records table accepts.
var supportedTypes = map[uint16]bool{
	wire.TypeA:     true,
	wire.TypeAAAA:  true,
	wire.TypeCNAME: true,
	wire.TypePTR:   true,
	wire.TypeTXT:   true,
	wire.TypeMX:    true,
}

func qtypeFromName(typeName string) (uint16, bool) {
	rtype, ok := dns.StringToType[strings.ToUpper(typeName)]
	if !ok || !supportedTypes[rtype] {
		return 0, false
	}
	return rtype, true
}

// TypeName returns the uppercase type string for a qtype this table serves,
// or "" if qtype isn't one of the six supported types.
func TypeName(qtype uint16) string {
	if !supportedTypes[qtype] {
		return ""
	}
	return dns.TypeToString[qtype]
}

func key(name string, qtype uint16) string {
	return wire.CanonicalName(name) + "|" + strconv.Itoa(int(qtype))
}

// Load rebuilds the table from scratch. Records whose Type does not resolve
// to one of A/AAAA/CNAME/PTR/TXT/MX are dropped.
func (t *Table) Load(recs []Record) {
	next := make(map[string]entry, len(recs))
	for _, r := range recs {
		rtype, ok := qtypeFromName(r.Type)
		if !ok {
			continue
		}
		next[key(r.Name, rtype)] = entry{value: r.Value, rtype: rtype}
	}

	t.mu.Lock()
	t.byID = next
	t.mu.Unlock()
}

// Resolve returns the stored record for (canonical name, qtype), or a miss.
func (t *Table) Resolve(name string, qtype uint16) (value string, rtype uint16, ok bool) {
	t.mu.RLock()
	e, found := t.byID[key(name, qtype)]
	t.mu.RUnlock()
	if !found {
		return "", 0, false
	}
	return e.value, e.rtype, true
}
