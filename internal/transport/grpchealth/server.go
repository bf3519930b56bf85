package grpchealth

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name reported for the converter.
const ServiceName = "docconv.Converter"

// Server exposes grpc.health.v1 so orchestrators can probe the converter
// without sending a document through it.
type Server struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
}

func New(addr string, logger *slog.Logger) *Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryUnaryInterceptor(logger),
		UnaryLoggingInterceptor(logger),
	))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		addr:   addr,
		srv:    srv,
		health: hs,
	}
}

func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}

	slog.Info("gRPC health listening", slog.String("addr", s.addr))
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	if err := s.srv.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Shutdown reports NOT_SERVING to watchers and stops the server, forcing
// the stop when ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.srv.GracefulStop()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("graceful stop timed out, forcing stop")
		s.srv.Stop()
		return fmt.Errorf("grpc shutdown: %w", ctx.Err())
	}
}
