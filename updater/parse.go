package updater

import (
	"strconv"
	"strings"

	"github.com/duskwatch/gravastar/wire"
)

// hashURL is the djb2 string hash used to name per-URL disk caches (spec
// §4.J), grounded on the original's HashUrl.
func hashURL(url string) uint64 {
	var hash uint64 = 5381
	for i := 0; i < len(url); i++ {
		hash = ((hash << 5) + hash) + uint64(url[i])
	}
	return hash
}

// cachePathForURL returns "<cacheDir>/upstream_<djb2(url)>.txt".
func cachePathForURL(cacheDir, url string) string {
	return cacheDir + "/upstream_" + strconv.FormatUint(hashURL(url), 10) + ".txt"
}

func isSkippableLine(line string) bool {
	if line == "" {
		return true
	}
	switch line[0] {
	case '!', '[', '#':
		return true
	}
	for _, marker := range []string{"##", "#@#", "#?#", "#$#"} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func looksLikeIP(token string) bool {
	if strings.ContainsRune(token, ':') {
		return true
	}
	hasDot := false
	for _, c := range token {
		if c == '.' {
			hasDot = true
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return hasDot
}

func isValidLabel(label string) bool {
	if label == "" {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return false
	}
	return true
}

// normalizeDomain lowercases, strips one trailing dot, and validates a
// candidate domain per spec §4.J's rules; ok is false for anything that
// doesn't parse as a real domain (bare hostnames like "localhost" included,
// since they lack a second label).
func normalizeDomain(raw string) (string, bool) {
	name := wire.CanonicalName(raw)
	if name == "" {
		return "", false
	}
	if strings.ContainsAny(name, "/*") {
		return "", false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return "", false
	}
	for _, label := range labels {
		if !isValidLabel(label) {
			return "", false
		}
	}
	return name, true
}

func splitWhitespace(line string) []string {
	return strings.Fields(line)
}

// ParseUpstreamBlocklistContent extracts a domain set from a hosts-file,
// plain-domain-list, or adblock-filter formatted document (spec §4.J).
func ParseUpstreamBlocklistContent(content string) map[string]struct{} {
	domains := make(map[string]struct{})

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if isSkippableLine(trimmed) {
			continue
		}

		if strings.HasPrefix(trimmed, "||") {
			caret := strings.IndexByte(trimmed[2:], '^')
			if caret == -1 {
				continue
			}
			domain := trimmed[2 : 2+caret]
			if normalized, ok := normalizeDomain(domain); ok {
				domains[normalized] = struct{}{}
			}
			continue
		}

		tokens := splitWhitespace(trimmed)
		if len(tokens) == 0 {
			continue
		}
		start := 0
		if looksLikeIP(tokens[0]) {
			start = 1
		}
		for _, tok := range tokens[start:] {
			if strings.HasPrefix(tok, "#") {
				break
			}
			if normalized, ok := normalizeDomain(tok); ok {
				domains[normalized] = struct{}{}
			}
		}
	}

	return domains
}
