// mdds-solver — эталонный солвер: gRPC сервис mdds.solver.v1.SolverService на gonum.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/shaiso/mdds/internal/config"
	"github.com/shaiso/mdds/internal/health"
	"github.com/shaiso/mdds/internal/solver"
	"github.com/shaiso/mdds/internal/solverapi"
	"github.com/shaiso/mdds/internal/telemetry"
)

func main() {
	cfg, err := config.Load[config.Solver]()
	if err != nil {
		telemetry.SetupLogger("mdds-solver", "info", "json").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger("mdds-solver", cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting mdds-solver")

	if err := solver.ValidateSweepSpec(cfg.SweepSchedule); err != nil {
		logger.Error("invalid sweep schedule", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := solver.NewRegistry(solver.RegistryConfig{
		JobTimeout: cfg.JobTimeout,
		ResultTTL:  cfg.ResultTTL,
		SweepSpec:  cfg.SweepSchedule,
		Logger:     logger,
	})
	if err := reg.Start(); err != nil {
		logger.Error("failed to start registry", "error", err)
		os.Exit(1)
	}
	defer reg.Stop()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(64<<20),
		grpc.MaxSendMsgSize(64<<20),
	)
	solverapi.RegisterSolverServer(srv, solver.NewServer(reg, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.ListenAddr)
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return health.Serve(gctx, cfg.HTTPAddr, health.NewMux(logger), logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}
	logger.Info("mdds-solver stopped")
}
