package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RunConfig holds listener settings.
type RunConfig struct {
	HTTPAddr        string
	GRPCAddr        string // empty disables the gRPC health listener
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Run serves HTTP (and gRPC health when configured) until ctx is cancelled,
// then shuts both down.
func (s *Server) Run(ctx context.Context, cfg RunConfig) error {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *grpc.Server
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcLis = lis
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, s.health)
	}

	s.CheckHealth(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			s.logger.Info("starting gRPC health server", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.CheckHealth(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down servers")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
