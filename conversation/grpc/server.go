package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"ai-baas/backend/pkg/health"
	"ai-baas/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the health service reports status under
const ServiceName = "contextengine.v1.ContextEngine"

// Server exposes the standard gRPC health protocol, mirroring the checker
type Server struct {
	grpc    *grpc.Server
	health  *grpchealth.Server
	checker *health.Checker
	period  time.Duration
	log     *logger.Logger
}

func NewServer(checker *health.Checker, period time.Duration, log *logger.Logger) *Server {
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  grpchealth.NewServer(),
		checker: checker,
		period:  period,
		log:     log.Module("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Sync copies the checker's verdict into the health service
func (s *Server) Sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.checker.IsSystemHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on addr until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Sync()
			}
		}
	}()

	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
