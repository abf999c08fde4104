package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTracksCounters(t *testing.T) {
	s := newTestServer()
	reg := NewRegistry(s.Counters())
	h := s.Handler()

	serve(h, http.MethodGet, PathFixed, nil)
	serve(h, http.MethodGet, PathFixed, nil)
	serve(h, http.MethodPost, PathEcho, []byte("A"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "benchmark_server_requests_handled", families[0].GetName())

	values := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "route" {
				values[lp.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{"total": 3, "fixed": 2, "echo": 1}, values)

	s.Counters().Reset()
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, m := range families[0].GetMetric() {
		assert.Zero(t, m.GetGauge().GetValue())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	s := startServer(t, cfg)
	require.NotEmpty(t, s.MetricsAddr())

	get(t, s.URL()+PathFixed)

	code, body := get(t, "http://"+s.MetricsAddr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `benchmark_server_requests_handled{route="fixed"} 1`)
	assert.Contains(t, body, `benchmark_server_requests_handled{route="total"} 1`)
	assert.Contains(t, body, `benchmark_server_requests_handled{route="echo"} 0`)
}

func TestMetricsDisabledByDefault(t *testing.T) {
	s := startServer(t, testConfig())
	assert.Empty(t, s.MetricsAddr())
}
