package upstream

import "os"

// trustStoreCandidates lists the platform CA bundle locations probed in
// order; the first hit wins. Mirrors the original implementation's
// ConfigureTls probe order (spec §6).
var trustStoreCandidates = []string{
	"/opt/homebrew/etc/ssl/cert.pem",
	"/usr/local/etc/ssl/cert.pem",
	"/etc/ssl/certs",
	"/etc/ssl/cert.pem",
	"/etc/ssl/certs/ca-certificates.crt",
}

// discoverTrustStore returns the first candidate path that exists, and
// whether it is a directory (as opposed to a single CA bundle file). Returns
// ok=false if none of the candidates exist.
func discoverTrustStore() (path string, isDir bool, ok bool) {
	for _, candidate := range trustStoreCandidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		return candidate, info.IsDir(), true
	}
	return "", false, false
}
