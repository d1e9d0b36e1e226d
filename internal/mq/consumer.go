package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// closeWait — сколько Close ждёт завершения текущего обработчика.
const closeWait = 5 * time.Second

// Subscribe подписывается на очередь с ручным подтверждением.
//
// Доставки обрабатываются последовательно в горутине подписки. Паника
// обработчика перехватывается; неподтверждённая доставка отклоняется
// без возврата в очередь, подписка продолжает работу.
func (q *RabbitQueue) Subscribe(ctx context.Context, queue string, h RawHandler) (Subscription, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	if q.closed.Load() {
		return nil, ErrClosed
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}

	// Устанавливаем prefetch
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, q.wrap("set qos", err)
	}

	if err := q.declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}

	tag := "mdds-" + uuid.NewString()
	deliveries, err := ch.Consume(
		queue, // queue
		tag,   // consumer tag
		false, // auto-ack (мы ack вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, q.wrap("consume "+queue, err)
	}

	s := &subscription{
		owner:  q,
		queue:  queue,
		tag:    tag,
		ch:     ch,
		logger: q.logger.With("queue", queue),
		done:   make(chan struct{}),
	}

	q.subMu.Lock()
	q.subs[s] = struct{}{}
	q.subMu.Unlock()

	go s.run(ctx, deliveries, h)

	s.logger.Info("subscribed", "consumer_tag", tag, "prefetch", q.prefetch)
	return s, nil
}

// subscription — подписка с собственным AMQP каналом.
type subscription struct {
	owner  *RabbitQueue
	queue  string
	tag    string
	ch     *amqp.Channel
	logger *slog.Logger

	done chan struct{}

	once sync.Once
	err  error
}

// run — цикл доставки. Завершается, когда брокер закрывает канал доставок.
func (s *subscription) run(ctx context.Context, deliveries <-chan amqp.Delivery, h RawHandler) {
	defer close(s.done)

	for d := range deliveries {
		s.dispatch(ctx, d, h)
	}

	s.logger.Debug("delivery loop finished")
}

// dispatch вызывает обработчик для одной доставки.
func (s *subscription) dispatch(ctx context.Context, d amqp.Delivery, h RawHandler) {
	acker := NewAcknowledger(
		func() error { return d.Ack(false) },
		func(requeue bool) error { return d.Nack(false, requeue) },
	)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "panic", r, "delivery_tag", d.DeliveryTag)
			if !acker.Settled() {
				if err := acker.Nack(false); err != nil {
					s.logger.Warn("failed to nack after panic", "error", err)
				}
			}
		}
	}()

	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	h(ctx, RawMessage{
		Body:      d.Body,
		Headers:   map[string]any(d.Headers),
		Timestamp: ts,
	}, acker)
}

// Close отменяет consumer на брокере и закрывает канал подписки.
//
// Close ждёт завершения текущего обработчика не дольше closeWait,
// поэтому вызывать его из обработчика этой же подписки не стоит.
func (s *subscription) Close() error {
	s.once.Do(func() {
		var errs []error

		if err := s.ch.Cancel(s.tag, false); err != nil {
			errs = append(errs, fmt.Errorf("cancel consumer %s: %w", s.tag, err))
		}

		select {
		case <-s.done:
		case <-time.After(closeWait):
			s.logger.Warn("handler still running after consumer cancel", "wait", closeWait)
		}

		if !s.ch.IsClosed() {
			if err := s.ch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
		}

		s.owner.subMu.Lock()
		delete(s.owner.subs, s)
		s.owner.subMu.Unlock()

		if len(errs) > 0 {
			s.err = errs[0]
			return
		}
		s.logger.Info("unsubscribed", "consumer_tag", s.tag)
	})

	return s.err
}
