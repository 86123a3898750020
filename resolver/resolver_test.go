package resolver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duskwatch/gravastar/blocklist"
	"github.com/duskwatch/gravastar/cache"
	"github.com/duskwatch/gravastar/records"
	"github.com/duskwatch/gravastar/upstream"
	"github.com/duskwatch/gravastar/wire"
)

func newEngine(t *testing.T, up *upstream.Resolver) (*Engine, *blocklist.Matcher, *records.Table, *cache.Cache) {
	t.Helper()
	bl := blocklist.New()
	rec := records.New()
	c := cache.New(1<<20, 120)
	return New(bl, rec, c, up, nil), bl, rec, c
}

func Test_Resolve_Blocklisted(t *testing.T) {
	e, bl, _, _ := newEngine(t, upstream.New(nil, nil, false, nil))
	bl.SetDomains([]string{"ads.example.com"})

	query := wire.BuildQuery(1, "ads.example.com", wire.TypeA)
	header, q, err := wire.ParseQuery(query)
	assert.NoError(t, err)

	result := e.Resolve(query, header, q)
	assert.Equal(t, SourceBlocklist, result.Source)

	gotHeader := wire.ParseHeader(result.Response)
	assert.Equal(t, uint16(1), gotHeader.ANCount)
}

func Test_Resolve_LocalRecord(t *testing.T) {
	e, _, rec, _ := newEngine(t, upstream.New(nil, nil, false, nil))
	rec.Load([]records.Record{{Name: "router.lan", Type: "A", Value: "192.168.1.1"}})

	query := wire.BuildQuery(1, "router.lan", wire.TypeA)
	header, q, err := wire.ParseQuery(query)
	assert.NoError(t, err)

	result := e.Resolve(query, header, q)
	assert.Equal(t, SourceLocal, result.Source)
}

func Test_Resolve_CacheHitPatchesId(t *testing.T) {
	e, _, _, c := newEngine(t, upstream.New(nil, nil, false, nil))

	query := wire.BuildQuery(1, "cached.example.com", wire.TypeA)
	header, q, err := wire.ParseQuery(query)
	assert.NoError(t, err)

	cachedResp := wire.BuildAResponse(header, q, "203.0.113.9")
	key := cache.Key(q.QName, int(q.QType))
	c.Put(key, cachedResp)

	query2 := wire.BuildQuery(99, "cached.example.com", wire.TypeA)
	header2, q2, err := wire.ParseQuery(query2)
	assert.NoError(t, err)

	result := e.Resolve(query2, header2, q2)
	assert.Equal(t, SourceCache, result.Source)

	gotHeader := wire.ParseHeader(result.Response)
	assert.Equal(t, uint16(99), gotHeader.ID)
}

func Test_Resolve_UpstreamFailureYieldsEmptyResponse(t *testing.T) {
	// ResolveUDP always dials udp_servers[0] on the fixed DNS port (53);
	// with no reachable server configured, the engine falls through to an
	// empty SourceUpstream response rather than blocking or panicking.
	up := upstream.New(nil, nil, false, nil)
	e, _, _, _ := newEngine(t, up)

	query := wire.BuildQuery(1, "live.example.com", wire.TypeA)
	header, q, err := wire.ParseQuery(query)
	assert.NoError(t, err)

	result := e.Resolve(query, header, q)
	assert.Equal(t, SourceUpstream, result.Source)
	assert.Equal(t, "", result.Upstream)
}

func Test_ResolveClientName_NoPTRRecord(t *testing.T) {
	e, _, _, _ := newEngine(t, upstream.New(nil, nil, false, nil))
	name := e.ResolveClientName(net.ParseIP("192.0.2.55"))
	assert.Equal(t, "-", name)
}

func Test_ResolveClientName_IPv6Unsupported(t *testing.T) {
	e, _, _, _ := newEngine(t, upstream.New(nil, nil, false, nil))
	name := e.ResolveClientName(net.ParseIP("2001:db8::1"))
	assert.Equal(t, "-", name)
}

func Test_ResolveClientName_LocalPTRNotServed(t *testing.T) {
	// Local PTR records are accepted at load but the engine's local-record
	// branch only serves A/AAAA/CNAME (spec open question), so a reverse
	// lookup for an address with only a local PTR record still falls through
	// to upstream/failure rather than answering from records.Table.
	e, _, rec, _ := newEngine(t, upstream.New(nil, nil, false, nil))
	rec.Load([]records.Record{{Name: "55.2.0.192.in-addr.arpa", Type: "PTR", Value: "host.lan"}})

	name := e.ResolveClientName(net.ParseIP("192.0.2.55"))
	assert.Equal(t, "-", name)
}
