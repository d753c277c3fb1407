package api

import (
	"context"
	"errors"
	"fmt"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/chartpilot/analysis-engine/internal/config"
)

// Server owns the gRPC listener, the AnalysisEngine registration and the
// health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer listens on cfg.Address and registers service. Extra options run
// after the metrics interceptors.
func NewServer(cfg config.ServerConfig, service AnalysisEngineServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		// Inline chart images ride in the request message.
		grpc.MaxRecvMsgSize(maxBodyBytes),
	}, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterAnalysisEngineServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	for _, name := range []string{"", ServiceName} {
		healthSrv.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	return &Server{grpcServer: grpcServer, health: healthSrv, listener: lis}, nil
}

// Start blocks serving requests. A graceful stop is not an error.
func (s *Server) Start() error {
	err := s.grpcServer.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown flips health to NOT_SERVING and drains in-flight analyses until
// ctx expires, then stops hard.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// Address is the bound listener address.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}
