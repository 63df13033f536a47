// Package grpc exposes heartbeat ingest and stats queries over gRPC, as an
// alternative to the websocket and HTTP endpoints.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address string
	ledger  ledger.Ledger
	limiter *ratelimit.Limiter
	clock   quartz.Clock
	maxSkew time.Duration
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, lg ledger.Ledger, limiter *ratelimit.Limiter, clock quartz.Clock, maxSkew time.Duration) *GRPCServer {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if limiter == nil {
		limiter = ratelimit.New(clock, nil)
	}
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		ledger:  lg,
		limiter: limiter,
		clock:   clock,
		maxSkew: maxSkew,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	RegisterLedgerServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
