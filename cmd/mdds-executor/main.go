// mdds-executor — исполнитель задач.
//
// Executor:
//   - Получает задачи из очереди mdds.jobs по одной
//   - Отправляет их удалённому солверу и опрашивает статус
//   - Публикует прогресс и финальный результат в mdds.results
//   - Слушает очередь отмены текущей задачи
//
// Исполнители масштабируются горизонтально.
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
	"github.com/shaiso/mdds/internal/orchestrator"
	"github.com/shaiso/mdds/internal/solverclient"
	"github.com/shaiso/mdds/internal/telemetry"
)

func main() {
	cfg, err := config.Load[config.Executor]()
	if err != nil {
		telemetry.SetupLogger("mdds-executor", "info", "json").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger("mdds-executor", cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting mdds-executor", "executor_id", cfg.ExecutorID)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	// RabbitMQ
	conn, err := mq.Dial(ctx, cfg.Broker.Connection(logger))
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	queue := mq.NewRabbitQueue(conn, cfg.Broker.Rabbit(logger))
	defer queue.Close()

	if err := queue.SetupTopology(ctx, cfg.Broker.JobQueue, cfg.Broker.ResultQueue); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	// Солвер
	solver, err := solverclient.New(solverclient.Config{
		Addr:        cfg.SolverAddr,
		CallTimeout: cfg.SolverCallTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create solver client", "error", err)
		os.Exit(1)
	}
	defer solver.Close()

	transient, err := cfg.Codes()
	if err != nil {
		logger.Error("invalid transient codes", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Config{
		Queue:             queue,
		Solver:            solver,
		JobQueue:          cfg.Broker.JobQueue,
		ResultQueue:       cfg.Broker.ResultQueue,
		CancelQueuePrefix: cfg.Broker.CancelQueuePrefix,
		ExecutorID:        cfg.ExecutorID,
		PollInterval:      cfg.PollInterval,
		TaskTimeout:       cfg.TaskTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		TransientCodes:    transient,
		Logger:            logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	mux := health.NewMux(logger,
		health.Connected("rabbitmq", queue.IsConnected),
		health.Connected("solver", solver.Healthy),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Serve(gctx, cfg.HTTPAddr, mux, logger)
	})

	// Ожидаем сигнал завершения или падение HTTP сервера
	<-gctx.Done()

	orch.Stop()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("http server error", "error", err)
	}
	logger.Info("mdds-executor stopped")
}
