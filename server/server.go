// Package server owns the listening UDP socket and the worker pool that
// drains it (spec §4.G): a single receive loop hands datagrams to a bounded
// pool of goroutines over a channel, the Go-idiomatic replacement for the
// original's mutex+condition-variable FIFO (spec §9 Design Notes: "a single
// bounded channel with graceful drain on shutdown is equivalent").
package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/duskwatch/gravastar/querylog"
	"github.com/duskwatch/gravastar/resolver"
	"github.com/duskwatch/gravastar/wire"
)

const (
	readBufferSize   = 4096
	readTimeout      = 1 * time.Second
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Config configures a Server's listening address, worker pool size, and
// optional Prometheus /metrics listener.
type Config struct {
	ListenAddr  string
	ListenPort  int
	WorkerCount int

	// MetricsAddr is the bind address for the /metrics HTTP endpoint
	// (spec SPEC_FULL.md Domain Stack). Empty disables it, matching the
	// teacher's blank-API-address-disables-it convention.
	MetricsAddr string
}

// Debugger receives low-level debug events; satisfied by *ctllog.Logger.
type Debugger interface {
	Debugf(format string, args ...any)
}

type job struct {
	packet []byte
	addr   *net.UDPAddr
}

// Server accepts UDP DNS queries and dispatches them to the resolution
// engine through a bounded worker pool.
type Server struct {
	cfg      Config
	engine   *resolver.Engine
	querylog *querylog.Logger
	debug    Debugger
	metrics  *metrics

	conn        *net.UDPConn
	metricsSrv  *http.Server
	metricsAddr string
	queue       chan job
	wg          sync.WaitGroup
	running     atomic.Bool
}

// New returns a Server. querylog and debug may be nil.
func New(cfg Config, engine *resolver.Engine, ql *querylog.Logger, debug Debugger) *Server {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkers
	}
	return &Server{
		cfg:      cfg,
		engine:   engine,
		querylog: ql,
		debug:    debug,
		metrics:  newMetrics(),
		queue:    make(chan job, defaultQueueSize),
	}
}

func (s *Server) debugf(format string, args ...any) {
	if s.debug != nil {
		s.debug.Debugf(format, args...)
	}
}

// Run binds the listening socket, starts the worker pool, and drains
// incoming datagrams until Stop is called. It blocks until the accept loop
// exits and every worker has drained the queue.
func (s *Server) Run() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.ListenAddr), Port: s.cfg.ListenPort}
	if addr.IP == nil {
		return fmt.Errorf("server: invalid listen address %q", s.cfg.ListenAddr)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen failed: %w", err)
	}
	s.conn = conn
	s.running.Store(true)
	s.metricsSrv, s.metricsAddr = startMetricsServer(s.cfg.MetricsAddr, s.debug)

	s.startWorkers()

	buf := make([]byte, readBufferSize)
	for s.running.Load() {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			break
		}
		if n == 0 {
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		s.queue <- job{packet: packet, addr: clientAddr}
	}

	close(s.queue)
	s.wg.Wait()
	conn.Close()
	stopMetricsServer(s.metricsSrv)
	return nil
}

// Stop signals the accept loop to exit after its next read timeout.
func (s *Server) Stop() {
	s.running.Store(false)
}

func (s *Server) startWorkers() {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

func (s *Server) workerLoop() {
	defer s.wg.Done()
	for j := range s.queue {
		s.handle(j)
	}
}

func (s *Server) handle(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.debugf("recovered panic handling query from %s: %v", j.addr, r)
		}
	}()

	header, question, err := wire.ParseQuery(j.packet)
	if err != nil {
		s.debugf("dropped malformed packet from %s: %v", j.addr, err)
		return
	}

	result := s.engine.Resolve(j.packet, header, question)
	if len(result.Response) > 0 {
		if _, err := s.conn.WriteToUDP(result.Response, j.addr); err != nil {
			s.debugf("write to %s failed: %v", j.addr, err)
		}
	}

	s.metrics.recordSource(result.Source.String())
	s.logQuery(j.addr, question, result)
}

func (s *Server) logQuery(addr *net.UDPAddr, q wire.Question, result resolver.Result) {
	if s.querylog == nil {
		return
	}
	clientIP := addr.IP.String()
	clientName := s.engine.ResolveClientName(addr.IP)
	qtype := qtypeName(q.QType)

	if result.Source == resolver.SourceBlocklist {
		s.querylog.LogBlock(clientIP, clientName, q.QName, qtype)
		return
	}
	s.querylog.LogPass(clientIP, clientName, q.QName, qtype, result.Source.String(), result.Upstream)
}

func qtypeName(qtype uint16) string {
	if name, ok := dns.TypeToString[qtype]; ok {
		return name
	}
	return strconv.Itoa(int(qtype))
}
