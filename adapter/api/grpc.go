package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServeGRPCHealth exposes the standard gRPC health service on addr until ctx
// ends.
func ServeGRPCHealth(ctx context.Context, addr string, hs *grpchealth.Server, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serveGRPCHealth(ctx, lis, hs, logger)
}

func serveGRPCHealth(ctx context.Context, lis net.Listener, hs *grpchealth.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
