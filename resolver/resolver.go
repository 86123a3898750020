// Package resolver implements the resolution decision engine (spec §4.F):
// blocklist, then local records, then cache, then upstream, plus the
// synthesized reverse lookup used to name clients in the query log.
package resolver

import (
	"fmt"
	"net"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/duskwatch/gravastar/blocklist"
	"github.com/duskwatch/gravastar/cache"
	"github.com/duskwatch/gravastar/records"
	"github.com/duskwatch/gravastar/upstream"
	"github.com/duskwatch/gravastar/wire"
)

var upstreamFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "gravastar_upstream_failures_total",
	Help: "Upstream resolution attempts that failed (timeout, socket error, zero-length response)",
})

func init() {
	if err := prometheus.Register(upstreamFailuresCounter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			upstreamFailuresCounter = are.ExistingCollector.(prometheus.Counter)
		}
	}
}

// Source identifies which stage of the decision chain produced a Result.
type Source int

const (
	SourceNone Source = iota
	SourceBlocklist
	SourceLocal
	SourceCache
	SourceUpstream
)

func (s Source) String() string {
	switch s {
	case SourceBlocklist:
		return "blocklist"
	case SourceLocal:
		return "local"
	case SourceCache:
		return "cache"
	case SourceUpstream:
		return "upstream"
	default:
		return "none"
	}
}

// Result is the outcome of a single resolution.
type Result struct {
	Response []byte
	Source   Source
	Upstream string
}

// Debugger receives low-level debug events; satisfied by *ctllog.Logger.
// Kept as a narrow interface here so resolver doesn't import ctllog.
type Debugger interface {
	Debugf(format string, args ...any)
}

// Engine orders the blocklist, local records, cache, and upstream stages.
// It holds no lock of its own over the cache: cache.Cache serializes its
// calls with its own mutex.
type Engine struct {
	blocklist *blocklist.Matcher
	records   *records.Table
	cache     *cache.Cache
	upstream  *upstream.Resolver
	debug     Debugger
	group     singleflight.Group
}

// New returns an Engine wired to the given components. debug may be nil.
func New(bl *blocklist.Matcher, rec *records.Table, c *cache.Cache, up *upstream.Resolver, debug Debugger) *Engine {
	return &Engine{blocklist: bl, records: rec, cache: c, upstream: up, debug: debug}
}

func (e *Engine) debugf(format string, args ...any) {
	if e.debug != nil {
		e.debug.Debugf(format, args...)
	}
}

type coalesced struct {
	response []byte
	used     string
}

// Resolve runs the full decision chain for one query and returns a Result.
// packet is the raw wire bytes of the query (needed verbatim for upstream
// forwarding); header and question are its already-parsed form.
func (e *Engine) Resolve(packet []byte, header wire.Header, q wire.Question) Result {
	if e.blocklist.IsBlocked(q.QName) {
		return Result{Response: blockedResponse(header, q), Source: SourceBlocklist}
	}

	if value, rtype, ok := e.records.Resolve(q.QName, q.QType); ok {
		if resp, served := localResponse(header, q, rtype, value); served {
			return Result{Response: resp, Source: SourceLocal}
		}
		// PTR/TXT/MX local records are accepted at load time but not served
		// by the engine (spec §4.F open question); fall through.
	}

	key := cache.Key(q.QName, int(q.QType))
	if cached, hit := e.cache.Get(key); hit {
		wire.PatchResponseId(cached, header.ID)
		return Result{Response: cached, Source: SourceCache}
	}

	out, err, _ := e.group.Do(key, func() (any, error) {
		resp, used, err := e.upstream.ResolveUDP(packet)
		if err != nil {
			return nil, err
		}
		e.cache.Put(key, resp)
		return coalesced{response: resp, used: used}, nil
	})
	if err != nil {
		upstreamFailuresCounter.Inc()
		e.debugf("upstream resolve failed for %s: %v", q.QName, err)
		return Result{Response: wire.BuildEmptyResponse(header, q), Source: SourceUpstream}
	}

	c := out.(coalesced)
	respCopy := make([]byte, len(c.response))
	copy(respCopy, c.response)
	return Result{Response: respCopy, Source: SourceUpstream, Upstream: c.used}
}

func blockedResponse(header wire.Header, q wire.Question) []byte {
	switch q.QType {
	case wire.TypeA:
		return wire.BuildAResponse(header, q, "0.0.0.0")
	case wire.TypeAAAA:
		return wire.BuildAAAAResponse(header, q, "::1")
	default:
		return wire.BuildEmptyResponse(header, q)
	}
}

func localResponse(header wire.Header, q wire.Question, rtype uint16, value string) ([]byte, bool) {
	switch rtype {
	case wire.TypeA:
		return wire.BuildAResponse(header, q, value), true
	case wire.TypeAAAA:
		return wire.BuildAAAAResponse(header, q, value), true
	case wire.TypeCNAME:
		return wire.BuildCNAMEResponse(header, q, value), true
	default:
		return nil, false
	}
}

// ResolveClientName synthesizes a "d.c.b.a.in-addr.arpa" PTR query for the
// client's IPv4 address, runs it through the same resolution path (so it
// benefits from the blocklist and cache), and extracts the answer's PTR
// target. Any failure yields "-" (spec §4.F).
func (e *Engine) ResolveClientName(clientIP net.IP) string {
	v4 := clientIP.To4()
	if v4 == nil {
		return "-"
	}
	arpa := fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0])

	query := wire.BuildQuery(0, arpa, wire.TypePTR)
	header, question, err := wire.ParseQuery(query)
	if err != nil {
		return "-"
	}

	result := e.Resolve(query, header, question)
	if len(result.Response) == 0 {
		return "-"
	}

	name, err := wire.ExtractFirstPtrTarget(result.Response)
	if err != nil || strings.TrimSpace(name) == "" {
		return "-"
	}
	return name
}
