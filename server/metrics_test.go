package server

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_NewMetrics_MultipleInstancesDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		newMetrics()
		newMetrics()
	})
}

func Test_RecordSource_DoesNotPanic(t *testing.T) {
	m := newMetrics()
	assert.NotPanics(t, func() {
		m.recordSource("cache")
		m.recordSource("upstream")
	})
}

func Test_StartMetricsServer_EmptyAddrDisabled(t *testing.T) {
	srv, addr := startMetricsServer("", nil)
	assert.Nil(t, srv)
	assert.Equal(t, "", addr)
	stopMetricsServer(srv) // must tolerate nil
}

func Test_StartMetricsServer_ServesPromhttp(t *testing.T) {
	m := newMetrics()
	m.recordSource("cache")

	// net.Listen inside startMetricsServer binds before it returns, so the
	// reported boundAddr is immediately dialable without a polling loop.
	srv, addr := startMetricsServer("127.0.0.1:0", nil)
	assert.NotNil(t, srv)
	assert.NotEmpty(t, addr)
	defer stopMetricsServer(srv)

	resp, err := http.Get("http://" + addr + "/metrics")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "gravastar_queries_total")
}
