package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig — параметры RabbitQueue.
type RabbitConfig struct {
	// Prefetch — сколько неподтверждённых сообщений получает подписчик (default: 1).
	Prefetch int

	// DeadLetterExchange — обменник для отклонённых сообщений.
	// Пустая строка — очереди объявляются без DLX.
	DeadLetterExchange string

	Logger *slog.Logger
}

// RabbitQueue — реализация Queue поверх RabbitMQ.
//
// Публикация идёт через один канал под мьютексом, каждая подписка
// получает собственный канал. Все очереди объявляются с одинаковыми
// аргументами, поэтому повторное объявление никогда не конфликтует.
type RabbitQueue struct {
	conn     *Connection
	logger   *slog.Logger
	prefetch int
	args     amqp.Table

	pubMu sync.Mutex
	pubCh *amqp.Channel

	subMu sync.Mutex
	subs  map[*subscription]struct{}

	closed atomic.Bool
}

var _ Queue = (*RabbitQueue)(nil)

// NewRabbitQueue создаёт очередь поверх установленного соединения.
func NewRabbitQueue(conn *Connection, cfg RabbitConfig) *RabbitQueue {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var args amqp.Table
	if cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	}

	return &RabbitQueue{
		conn:     conn,
		logger:   logger,
		prefetch: prefetch,
		args:     args,
		subs:     make(map[*subscription]struct{}),
	}
}

// Publish публикует сообщение в очередь через обменник по умолчанию.
// Подтверждения от брокера не ожидаются.
func (q *RabbitQueue) Publish(ctx context.Context, queue string, msg RawMessage) error {
	if queue == "" {
		return ErrEmptyQueueName
	}
	if q.closed.Load() {
		return ErrClosed
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	ch, err := q.publishChannel()
	if err != nil {
		return err
	}

	if err := q.declare(ch, queue); err != nil {
		return err
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ts,
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	}
	if id, ok := msg.Headers[HeaderMessageID].(string); ok {
		publishing.MessageId = id
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return q.wrap("publish to "+queue, err)
	}

	q.logger.Debug("message published", "queue", queue, "size", len(msg.Body))
	return nil
}

// DeleteQueue удаляет очередь вместе с оставшимися сообщениями.
func (q *RabbitQueue) DeleteQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return ErrEmptyQueueName
	}
	if q.closed.Load() {
		return ErrClosed
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	ch, err := q.publishChannel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		return q.wrap("delete queue "+queue, err)
	}

	q.logger.Debug("queue deleted", "queue", queue)
	return nil
}

// IsConnected сообщает, живо ли соединение.
func (q *RabbitQueue) IsConnected() bool {
	return !q.closed.Load() && q.conn.IsConnected()
}

// Close закрывает подписки, канал публикации и соединение.
//
// Каждый шаг выполняется, даже если предыдущий упал. Ошибки логируются,
// возвращается первая.
func (q *RabbitQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.subMu.Lock()
	subs := make([]*subscription, 0, len(q.subs))
	for s := range q.subs {
		subs = append(subs, s)
	}
	q.subMu.Unlock()

	var errs []error

	for _, s := range subs {
		if err := s.Close(); err != nil {
			q.logger.Warn("failed to close subscription", "queue", s.queue, "error", err)
			errs = append(errs, err)
		}
	}

	q.pubMu.Lock()
	if q.pubCh != nil && !q.pubCh.IsClosed() {
		if err := q.pubCh.Close(); err != nil {
			q.logger.Warn("failed to close publish channel", "error", err)
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	q.pubCh = nil
	q.pubMu.Unlock()

	if err := q.conn.Close(); err != nil {
		q.logger.Warn("failed to close connection", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// publishChannel возвращает канал публикации, открывая его заново после ошибки.
// Вызывается под pubMu.
func (q *RabbitQueue) publishChannel() (*amqp.Channel, error) {
	if q.pubCh != nil && !q.pubCh.IsClosed() {
		return q.pubCh, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}
	q.pubCh = ch
	return ch, nil
}

// declare объявляет очередь. Повторное объявление с теми же аргументами идемпотентно.
func (q *RabbitQueue) declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,  // name
		true,   // durable
		false,  // delete when unused
		false,  // exclusive
		false,  // no-wait
		q.args, // arguments
	)
	if err != nil {
		return q.wrap("declare queue "+queue, err)
	}
	return nil
}

// wrap превращает ошибки разорванного соединения в *ConnectionError.
func (q *RabbitQueue) wrap(op string, err error) error {
	if errors.Is(err, amqp.ErrClosed) || !q.conn.IsConnected() {
		return &ConnectionError{Op: op, Addr: q.conn.Addr(), Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
