package mq

import (
	"context"
	"fmt"
)

// Имена очередей по умолчанию.
const (
	DefaultJobQueue          = "mdds.jobs"
	DefaultResultQueue       = "mdds.results"
	DefaultCancelQueuePrefix = "mdds.cancel."
)

// Dead letter topology.
const (
	DeadLetterExchange = "mdds.dlx"
	DeadLetterQueue    = "mdds.dlq"
)

// CancelQueueName возвращает имя очереди отмены для задачи.
func CancelQueueName(prefix, jobID string) string {
	return prefix + jobID
}

// SetupTopology объявляет DLX, DLQ и переданные очереди.
//
// DLX объявляется только если он задан в RabbitConfig. Очереди объявляются
// с теми же аргументами, что и при publish/subscribe.
func (q *RabbitQueue) SetupTopology(ctx context.Context, queues ...string) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// 1. DLX и DLQ
	if dlx, ok := q.args["x-dead-letter-exchange"].(string); ok {
		if err := ch.ExchangeDeclare(
			dlx,      // name
			"fanout", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return q.wrap("declare exchange "+dlx, err)
		}

		if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
			return q.wrap("declare queue "+DeadLetterQueue, err)
		}

		if err := ch.QueueBind(DeadLetterQueue, "", dlx, false, nil); err != nil {
			return q.wrap(fmt.Sprintf("bind %s to %s", DeadLetterQueue, dlx), err)
		}
	}

	// 2. Рабочие очереди
	for _, name := range queues {
		if err := q.declare(ch, name); err != nil {
			return err
		}
	}

	q.logger.Info("topology declared", "queues", queues)
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  mdds RabbitMQ topology:

    (default exchange)
    ├── mdds.jobs              Job            → executor
    ├── mdds.results           ResultRecord   → result consumer
    └── mdds.cancel.<jobId>    CancelRequest  → executor owning the job

    mdds.dlx (fanout)
    └── mdds.dlq               malformed messages, manual processing
  `
}
