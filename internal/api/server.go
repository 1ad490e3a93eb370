package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the JSON-RPC API next to health and metrics endpoints.
type Server struct {
	rpc    *rpc.Server
	http   *http.Server
	logger *zap.Logger
}

// NewServer registers svc under the "swap" namespace.
func NewServer(addr string, svc *Service, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("swap", svc); err != nil {
		return nil, fmt.Errorf("register swap service: %w", err)
	}
	return &Server{
		rpc: rpcServer,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(rpcServer, gatherer),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// NewRouter mounts the RPC server at / and /ws.
func NewRouter(rpcServer *rpc.Server, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))
	r.Post("/", rpcServer.ServeHTTP)
	return r
}

// RPC returns the underlying RPC server, for in-process clients.
func (s *Server) RPC() *rpc.Server {
	return s.rpc
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	s.rpc.Stop()
	return nil
}
