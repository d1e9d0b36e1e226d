// mdds — утилита командной строки для отправки и отмены задач.
//
// Использование:
//
//	mdds [--json] <command> [flags]
//
// Команды:
//
//	submit   Отправить систему A·x = b
//	cancel   Отменить задачу
//	result   Показать статус и решение
//	methods  Список методов решения
//
// Подключение к RabbitMQ и хранилищу задаётся переменными окружения
// (RABBITMQ_URL, STORE_BACKEND, STORE_URL).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/mdds/internal/cli"
	"github.com/shaiso/mdds/internal/config"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/store"
	"github.com/shaiso/mdds/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "mdds",
		Short:         "mdds CLI — distributed linear system solver",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	clientFn := func(cmd *cobra.Command) (*cli.Client, error) {
		cfg, err := config.Load[config.CLI]()
		if err != nil {
			return nil, err
		}
		logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, "text")
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Options(logger))
		if err != nil {
			return nil, err
		}

		conn, err := mq.Dial(ctx, cfg.Broker.Connection(logger))
		if err != nil {
			st.Close()
			return nil, err
		}
		queue := mq.NewRabbitQueue(conn, cfg.Broker.Rabbit(logger))

		return cli.NewClient(cli.ClientConfig{
			Queue:    queue,
			Store:    st,
			JobQueue: cfg.Broker.JobQueue,
			Logger:   logger,
			Close: func() error {
				qerr := queue.Close()
				serr := st.Close()
				if qerr != nil {
					return qerr
				}
				return serr
			},
		}), nil
	}

	rootCmd.AddCommand(cli.NewJobCmds(clientFn, outputFn)...)
	rootCmd.AddCommand(cli.NewMethodsCmd(outputFn))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
