// Package gateway is the thin HTTP surface of the orchestrator: health and
// metrics endpoints plus the websocket upgrade that feeds the fabric
// registry. Chat transport and UI live upstream; this server only carries
// what the core needs to be observable and reachable.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auroraops/aurora/internal/config"
	"github.com/auroraops/aurora/internal/fabric"
	"github.com/auroraops/aurora/internal/observability"
)

// Server hosts the gateway endpoints.
type Server struct {
	cfg       config.ServerConfig
	registry  *fabric.Registry
	confirmer *fabric.SocketConfirmer
	logger    *observability.Logger

	httpServer *http.Server
}

// NewServer wires the gateway over the fabric registry and confirmer.
func NewServer(cfg config.ServerConfig, registry *fabric.Registry, confirmer *fabric.SocketConfirmer, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{cfg: cfg, registry: registry, confirmer: confirmer, logger: logger}
}

// Handler returns the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "gateway listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errc:
		return fmt.Errorf("gateway: serve: %w", err)
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
