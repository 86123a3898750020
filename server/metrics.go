package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the small ambient Prometheus surface: one counter split by
// resolution source, mirroring the teacher's dns_queries_total shape.
type metrics struct {
	queries *prometheus.CounterVec
}

func newMetrics() *metrics {
	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravastar_queries_total",
			Help: "DNS queries served, by resolution source",
		},
		[]string{"source"},
	)
	if err := prometheus.Register(queries); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queries = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return &metrics{queries: queries}
}

func (m *metrics) recordSource(source string) {
	m.queries.With(prometheus.Labels{"source": source}).Inc()
}

// startMetricsServer binds a minimal HTTP listener exposing /metrics via
// promhttp, mirroring the teacher's api.Run (api/api.go): Serve in a
// background goroutine, errors reported through the debug sink rather than
// failing the caller. Returns (nil, "") if addr is empty (metrics disabled,
// matching the teacher's "left blank for disabled" API address) or if the
// listener can't be bound. boundAddr is the listener's actual address
// (letting callers pass port 0 and discover what was bound).
func startMetricsServer(addr string, debug Debugger) (srv *http.Server, boundAddr string) {
	if addr == "" {
		return nil, ""
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if debug != nil {
			debug.Debugf("metrics listen on %s failed: %v", addr, err)
		}
		return nil, ""
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv = &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if debug != nil {
				debug.Debugf("metrics server failed: %v", err)
			}
		}
	}()

	return srv, ln.Addr().String()
}

// stopMetricsServer shuts srv down with a bounded grace period. A nil srv
// (metrics disabled) is a no-op.
func stopMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
