// Package upstream implements the two forwarding transports gravastar
// speaks to public resolvers: plain UDP with a per-attempt timeout, and
// DNS-over-TLS with RFC 7766 two-byte length framing and platform
// trust-store discovery (spec §4.E).
package upstream

import (
	"fmt"
	"net"
	"time"
)

const (
	udpTimeout    = 2 * time.Second
	udpBufferSize = 4096
	defaultDNSPort = 53
)

// DebugFunc receives low-level transport debug events (spec §7: controller
// log at debug level). A nil DebugFunc discards events.
type DebugFunc func(format string, args ...any)

// Resolver forwards queries to the first configured upstream of the
// requested kind, whether or not it is reachable. It never load-balances or fails over across servers
// (spec Non-goals / §9 Open Question: preserved as documented).
type Resolver struct {
	udpServers []string
	dotServers []string
	dotVerify  bool
	debug      DebugFunc
}

// New returns a Resolver. udpServers are IPv4 literals with port 53 implied;
// dotServers use the "tls_host@connect_endpoint" or "connect_endpoint"
// syntax from spec §4.E.
func New(udpServers, dotServers []string, dotVerify bool, debug DebugFunc) *Resolver {
	return &Resolver{
		udpServers: udpServers,
		dotServers: dotServers,
		dotVerify:  dotVerify,
		debug:      debug,
	}
}

func (r *Resolver) debugf(format string, args ...any) {
	if r.debug != nil {
		r.debug(format, args...)
	}
}

// ResolveUDP forwards query to udpServers[0] verbatim over UDP and returns
// whatever comes back within 2 seconds. It never retries and never falls
// back to later configured servers.
func (r *Resolver) ResolveUDP(query []byte) (response []byte, usedServer string, err error) {
	if len(r.udpServers) == 0 {
		return nil, "", fmt.Errorf("upstream: no UDP servers configured")
	}
	usedServer = r.udpServers[0]

	addr := net.JoinHostPort(usedServer, fmt.Sprintf("%d", defaultDNSPort))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, usedServer, fmt.Errorf("upstream: dial failed: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(udpTimeout)); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: set deadline failed: %w", err)
	}

	if _, err := conn.Write(query); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: write failed: %w", err)
	}
	r.debugf("upstream query sent to %s:%d", usedServer, defaultDNSPort)

	buf := make([]byte, udpBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, usedServer, fmt.Errorf("upstream: read failed: %w", err)
	}
	if n == 0 {
		return nil, usedServer, fmt.Errorf("upstream: zero-length response")
	}
	r.debugf("upstream response received: %d bytes", n)

	return buf[:n], usedServer, nil
}
