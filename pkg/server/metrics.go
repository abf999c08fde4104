package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/httpclient_benchmark/pkg/logger"
)

// NewRegistry returns a Prometheus registry exposing c as
// benchmark_server_requests_handled{route="total|fixed|echo"}.
func NewRegistry(c *Counters) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	routes := []struct {
		route string
		load  func() int64
	}{
		{"total", c.total.Load},
		{"fixed", c.fixed.Load},
		{"echo", c.echo.Load},
	}
	for _, r := range routes {
		load := r.load
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "benchmark",
			Subsystem:   "server",
			Name:        "requests_handled",
			Help:        "Requests handled since the last stats reset.",
			ConstLabels: prometheus.Labels{"route": r.route},
		}, func() float64 {
			return float64(load())
		}))
	}
	return reg
}

type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func startMetrics(addr string, c *Counters, log *logger.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(c), promhttp.HandlerOpts{}))
	m := &metricsServer{
		srv: &http.Server{Handler: mux},
		ln:  ln,
	}

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics", "serve failed: %v", err)
		}
	}()
	log.Info("metrics", "serving Prometheus metrics on http://%s/metrics", ln.Addr())
	return m, nil
}

func (m *metricsServer) addr() string {
	return m.ln.Addr().String()
}

func (m *metricsServer) shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
