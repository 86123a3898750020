package updater

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_HashURL_Deterministic(t *testing.T) {
	a := hashURL("https://example.com/list.txt")
	b := hashURL("https://example.com/list.txt")
	assert.Equal(t, a, b)

	c := hashURL("https://example.com/other.txt")
	assert.NotEqual(t, a, c)
}

func Test_CachePathForURL(t *testing.T) {
	path := cachePathForURL("/var/cache/gravastar", "https://example.com/list.txt")
	assert.Contains(t, path, "/var/cache/gravastar/upstream_")
	assert.Contains(t, path, ".txt")
}

func Test_IsSkippableLine(t *testing.T) {
	assert.True(t, isSkippableLine(""))
	assert.True(t, isSkippableLine("! comment"))
	assert.True(t, isSkippableLine("[Adblock Plus]"))
	assert.True(t, isSkippableLine("# comment"))
	assert.True(t, isSkippableLine("example.com##.banner-ad"))
	assert.False(t, isSkippableLine("0.0.0.0 ads.example.com"))
}

func Test_LooksLikeIP(t *testing.T) {
	assert.True(t, looksLikeIP("0.0.0.0"))
	assert.True(t, looksLikeIP("127.0.0.1"))
	assert.True(t, looksLikeIP("::1"))
	assert.False(t, looksLikeIP("example.com"))
}

func Test_NormalizeDomain(t *testing.T) {
	name, ok := normalizeDomain("Ads.Example.com.")
	assert.True(t, ok)
	assert.Equal(t, "ads.example.com", name)

	_, ok = normalizeDomain("localhost")
	assert.False(t, ok, "single-label names are rejected")

	_, ok = normalizeDomain("")
	assert.False(t, ok)

	_, ok = normalizeDomain("*.example.com")
	assert.False(t, ok)

	_, ok = normalizeDomain("-bad.example.com")
	assert.False(t, ok)
}

func Test_ParseUpstreamBlocklistContent_HostsFormat(t *testing.T) {
	content := "0.0.0.0 ads.example.com\n127.0.0.1 tracker.io # inline comment\n# full comment\n"
	domains := ParseUpstreamBlocklistContent(content)

	assert.Len(t, domains, 2)
	_, ok := domains["ads.example.com"]
	assert.True(t, ok)
	_, ok = domains["tracker.io"]
	assert.True(t, ok)
}

func Test_ParseUpstreamBlocklistContent_PlainDomainList(t *testing.T) {
	content := "ads.example.com\ntracker.io\n"
	domains := ParseUpstreamBlocklistContent(content)
	assert.Len(t, domains, 2)
}

func Test_ParseUpstreamBlocklistContent_AdblockFilter(t *testing.T) {
	content := "||ads.example.com^\n||tracker.io^$third-party\n! this is a comment\n"
	domains := ParseUpstreamBlocklistContent(content)

	assert.Len(t, domains, 2)
	_, ok := domains["ads.example.com"]
	assert.True(t, ok)
	_, ok = domains["tracker.io"]
	assert.True(t, ok)
}

func Test_ParseUpstreamBlocklistContent_MixedAndMalformed(t *testing.T) {
	content := strings.Join([]string{
		"[Adblock Plus 2.0]",
		"||good.example.com^",
		"||nocaret.example.com",
		"",
		"0.0.0.0 hosts.example.com",
		"localhost", // single-label, dropped
	}, "\n")
	domains := ParseUpstreamBlocklistContent(content)

	_, ok := domains["good.example.com"]
	assert.True(t, ok)
	_, ok = domains["hosts.example.com"]
	assert.True(t, ok)
	_, ok = domains["nocaret.example.com"]
	assert.False(t, ok)
	assert.Len(t, domains, 2)
}
