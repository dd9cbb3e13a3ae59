// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wardenerrors "warden/internal/errors"
	"warden/internal/logging"
)

// MetricsServer exposes Prometheus collectors and a liveness probe over
// HTTP, alongside (but independent of) the line-protocol command channel.
// Grounded on internal/services/ebpf/dns_blocklist/api.go's
// RegisterRoutes(*mux.Router) shape, narrowed to the two read-only routes
// this daemon needs.
type MetricsServer struct {
	addr      string
	registry  *prometheus.Registry
	startedAt time.Time
	logger    *logging.Logger

	server *http.Server
}

// NewMetricsServer creates a MetricsServer bound to addr (e.g. ":9860"),
// exposing reg's collectors.
func NewMetricsServer(addr string, reg *prometheus.Registry) *MetricsServer {
	return &MetricsServer{
		addr:      addr,
		registry:  reg,
		startedAt: time.Now().UTC(),
		logger:    logging.Default().WithComponent("metrics"),
	}
}

// Run serves /metrics and /healthz until ctx is canceled.
func (s *MetricsServer) Run(ctx context.Context) error {
	router := mux.NewRouter()
	s.RegisterRoutes(router)

	s.server = &http.Server{Addr: s.addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "metrics: listen on %s", s.addr)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("metrics: shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// RegisterRoutes wires /metrics and /healthz onto router.
func (s *MetricsServer) RegisterRoutes(router *mux.Router) {
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

func (s *MetricsServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"uptime_sec": time.Since(s.startedAt).Seconds(),
	})
}
