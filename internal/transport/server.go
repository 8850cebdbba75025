package transport

import (
	"log/slog"
	"net"
	"time"

	"grantfed/internal/broker"
	"grantfed/internal/configuration/properties"
	"grantfed/internal/metrics"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// Server exposes a broker to other processes over gRPC.
type Server struct {
	network string
	addr    string
	grpc    *grpc.Server
}

func NewServer(cfg *properties.BrokerConfigProperties, ch broker.Channel) *Server {
	var opts []grpc.ServerOption
	if cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams))
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(metrics.StreamServerInterceptor()),
	)

	s := grpc.NewServer(opts...)
	RegisterBrokerServer(s, NewBrokerService(ch))
	reflection.Register(s)

	return &Server{
		network: cfg.Network,
		addr:    cfg.Addr(),
		grpc:    s,
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() (net.Listener, error) {
	lis, err := net.Listen(s.network, s.addr)
	if err != nil {
		return nil, err
	}
	slog.Info("broker listening", "addr", lis.Addr())

	go s.Serve(lis)
	return lis, nil
}

func (s *Server) Serve(lis net.Listener) {
	if err := s.grpc.Serve(lis); err != nil {
		slog.Error("failed to serve broker listener", "error", err)
	}
}

// Stop drains in-flight calls, falling back to a hard stop when open
// consumer streams do not finish in time.
func (s *Server) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("broker graceful stop timed out, forcing")
		s.grpc.Stop()
	}
	slog.Info("broker server stopped")
}
