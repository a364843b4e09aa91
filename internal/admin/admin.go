// Package admin exposes the gRPC health endpoint of the session server.
package admin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the session listener.
const ServiceName = "battleship.SessionServer"

// Probe reports whether the session listener is accepting connections.
type Probe func() bool

// Server serves grpc.health.v1.Health for load balancers and orchestrators.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	serving  bool
}

// NewServer creates a health server for addr. Both the overall status and
// ServiceName start out NOT_SERVING.
//
// Precondition: logger must be non-nil.
func NewServer(addr string, logger *zap.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   addr,
		grpc:   gs,
		health: hs,
		logger: logger,
	}
}

// ListenAndServe listens on the configured address and blocks until Stop.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve blocks serving gRPC on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("admin gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// SetServing flips the reported status. Transitions are logged once.
func (s *Server) SetServing(serving bool) {
	s.mu.Lock()
	changed := s.serving != serving
	s.serving = serving
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	if changed {
		s.logger.Info("health status changed", zap.String("status", status.String()))
	}
}

// Track polls probe every interval and mirrors its result into the health
// status until ctx is done.
func (s *Server) Track(ctx context.Context, interval time.Duration, probe Probe) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.SetServing(probe())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop reports NOT_SERVING to every watcher and drains in-flight RPCs.
//
// Postcondition: The listener is closed.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("admin gRPC server stopped")
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
