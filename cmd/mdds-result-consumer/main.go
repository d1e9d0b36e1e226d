// mdds-result-consumer — переносит результаты задач из mdds.results в хранилище.
//
// Финальная запись не перезаписывается, прогресс в хранилище не убывает.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/mdds/internal/config"
	"github.com/shaiso/mdds/internal/health"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/resultconsumer"
	"github.com/shaiso/mdds/internal/store"
	"github.com/shaiso/mdds/internal/telemetry"
)

func main() {
	cfg, err := config.Load[config.ResultConsumer]()
	if err != nil {
		telemetry.SetupLogger("mdds-result-consumer", "info", "json").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger("mdds-result-consumer", cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting mdds-result-consumer", "store", cfg.Store.Backend)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	// Хранилище
	st, err := store.Open(ctx, cfg.Store.Options(logger))
	if err != nil {
		logger.Error("failed to connect to result store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// RabbitMQ
	conn, err := mq.Dial(ctx, cfg.Broker.Connection(logger))
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	queue := mq.NewRabbitQueue(conn, cfg.Broker.Rabbit(logger))
	defer queue.Close()

	if err := queue.SetupTopology(ctx, cfg.Broker.ResultQueue); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	svc := resultconsumer.New(resultconsumer.Config{
		Queue:       queue,
		Store:       st,
		ResultQueue: cfg.Broker.ResultQueue,
		Logger:      logger,
	})
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start result consumer", "error", err)
		os.Exit(1)
	}

	mux := health.NewMux(logger,
		health.Connected("rabbitmq", queue.IsConnected),
		health.CheckFunc("store", st.Ping),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Serve(gctx, cfg.HTTPAddr, mux, logger)
	})

	<-gctx.Done()

	svc.Stop()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("http server error", "error", err)
	}
	logger.Info("mdds-result-consumer stopped")
}
