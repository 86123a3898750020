package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dotDefaultPort = 853

// dotServer is a parsed "tls_host@connect_endpoint" or "connect_endpoint"
// entry (spec §4.E DoT server syntax).
type dotServer struct {
	tlsHost     string
	connectHost string
	port        int
}

func parseDotServer(input string) (dotServer, error) {
	if input == "" {
		return dotServer{}, fmt.Errorf("upstream: empty DoT server")
	}

	at := strings.IndexByte(input, '@')
	if at == -1 {
		host, port, err := ParseHostPort(input, dotDefaultPort)
		if err != nil {
			return dotServer{}, err
		}
		return dotServer{tlsHost: host, connectHost: host, port: port}, nil
	}

	left, right := input[:at], input[at+1:]
	if left == "" || right == "" {
		return dotServer{}, fmt.Errorf("upstream: invalid DoT server %q", input)
	}
	host, port, err := ParseHostPort(right, dotDefaultPort)
	if err != nil {
		return dotServer{}, err
	}
	return dotServer{tlsHost: left, connectHost: host, port: port}, nil
}

func loadTrustPool() (*x509.CertPool, bool) {
	path, isDir, ok := discoverTrustStore()
	if !ok {
		return nil, false
	}

	pool := x509.NewCertPool()
	if !isDir {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, false
		}
		return pool, true
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, false
	}
	loaded := false
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, ent.Name()))
		if err != nil {
			continue
		}
		if pool.AppendCertsFromPEM(data) {
			loaded = true
		}
	}
	return pool, loaded
}

// ResolveDoT sends query over a TLS-wrapped TCP connection to the first
// configured DoT server, framed with a 2-byte big-endian length prefix
// (RFC 7766 §8), and returns the response. Connect, and every subsequent
// I/O call, is bounded to 2 seconds.
func (r *Resolver) ResolveDoT(query []byte) (response []byte, usedServer string, err error) {
	if len(r.dotServers) == 0 {
		return nil, "", fmt.Errorf("upstream: no DoT servers configured")
	}

	server, err := parseDotServer(r.dotServers[0])
	if err != nil {
		return nil, "", err
	}

	usedServer = fmt.Sprintf("%s@%s:%d", server.tlsHost, server.connectHost, server.port)

	dialer := net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(server.connectHost, fmt.Sprintf("%d", server.port)))
	if err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT connect failed: %w", err)
	}
	defer conn.Close()

	tlsConfig := &tls.Config{ServerName: server.tlsHost}

	insecure := !r.dotVerify
	if !insecure {
		pool, ok := loadTrustPool()
		if !ok {
			r.debugf("DoT using insecure TLS config (no CA found)")
			insecure = true
		} else {
			tlsConfig.RootCAs = pool
		}
	}
	if insecure {
		r.debugf("DoT TLS verification disabled")
		tlsConfig.InsecureSkipVerify = true
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT deadline failed: %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT handshake failed: %w", err)
	}

	if len(query) > 0xFFFF {
		return nil, usedServer, fmt.Errorf("upstream: query too large for DoT framing")
	}

	if err := tlsConn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT deadline failed: %w", err)
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(query)))
	if _, err := tlsConn.Write(lenBuf[:]); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT write length failed: %w", err)
	}
	if _, err := tlsConn.Write(query); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT write query failed: %w", err)
	}

	if err := tlsConn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT deadline failed: %w", err)
	}
	if _, err := io.ReadFull(tlsConn, lenBuf[:]); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT read length failed: %w", err)
	}
	respLen := binary.BigEndian.Uint16(lenBuf[:])
	if respLen == 0 {
		return nil, usedServer, fmt.Errorf("upstream: DoT response length is zero")
	}

	if err := tlsConn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT deadline failed: %w", err)
	}
	buf := make([]byte, respLen)
	if _, err := io.ReadFull(tlsConn, buf); err != nil {
		return nil, usedServer, fmt.Errorf("upstream: DoT short read: %w", err)
	}

	return buf, usedServer, nil
}
