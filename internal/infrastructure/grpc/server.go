package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/th1s9uy/saas-billing/pkg/logger"
)

// ServiceName is the name the billing service reports under grpc.health.v1.
const ServiceName = "billing"

// Server wraps a grpc.Server exposing the health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
	address    string
	reflection bool
}

type ServerOption func(*Server)

func WithAddress(address string) ServerOption {
	return func(s *Server) {
		s.address = address
	}
}

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReflection registers the reflection service, useful outside production.
func WithReflection(enabled bool) ServerOption {
	return func(s *Server) {
		s.reflection = enabled
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:  zap.NewNop(),
		address: ":9090",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(logger.NewGrpcUnaryServerInterceptor(s.logger)),
		grpc.StreamInterceptor(logger.NewGrpcStreamServerInterceptor(s.logger)),
	)

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	if s.reflection {
		reflection.Register(s.grpcServer)
	}
	return s
}

// Start listens on the configured address and serves until shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("address", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Shutdown reports NOT_SERVING, then stops gracefully. When ctx expires first
// the remaining RPCs are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("gRPC server did not stop in time, forcing")
		s.grpcServer.Stop()
		return ctx.Err()
	case <-stopped:
		return nil
	}
}
