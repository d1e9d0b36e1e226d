package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/mdds/internal/telemetry"
)

// Queue — абстракция брокера сообщений.
//
// Очереди объявляются при первом обращении (publish/subscribe), объявление
// идемпотентно. Реализации: RabbitQueue и mqtest.Broker.
type Queue interface {
	// Publish публикует сообщение в очередь, объявляя её при необходимости.
	Publish(ctx context.Context, queue string, msg RawMessage) error

	// Subscribe подписывается на очередь с ручным подтверждением.
	// Обработчик вызывается ровно один раз на доставку.
	Subscribe(ctx context.Context, queue string, h RawHandler) (Subscription, error)

	// DeleteQueue удаляет очередь.
	DeleteQueue(ctx context.Context, queue string) error

	// IsConnected сообщает, живо ли соединение с брокером.
	IsConnected() bool

	// Close закрывает подписки и соединение. Повторный вызов ничего не делает.
	Close() error
}

// Publish кодирует payload в JSON и публикует сообщение.
func Publish[T any](ctx context.Context, q Queue, queue string, msg Message[T]) error {
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", queue, err)
	}

	return q.Publish(ctx, queue, RawMessage{
		Body:      body,
		Headers:   msg.Headers,
		Timestamp: msg.Timestamp,
	})
}

// Subscribe подписывается на очередь и декодирует каждое сообщение в T.
//
// Сообщение, которое не удалось декодировать, отклоняется без возврата
// в очередь (уходит в DLQ, если она настроена), обработчик не вызывается.
func Subscribe[T any](ctx context.Context, q Queue, queue string, h Handler[T]) (Subscription, error) {
	logger := telemetry.FromContext(ctx)

	return q.Subscribe(ctx, queue, func(ctx context.Context, raw RawMessage, ack Acknowledger) {
		var payload T
		if err := json.Unmarshal(raw.Body, &payload); err != nil {
			logger.Error("failed to decode message",
				"queue", queue,
				"error", err,
				"body", truncate(raw.Body, 256),
			)
			if err := ack.Nack(false); err != nil {
				logger.Warn("failed to nack malformed message", "queue", queue, "error", err)
			}
			return
		}

		h(ctx, Message[T]{
			Payload:   payload,
			Headers:   raw.Headers,
			Timestamp: raw.Timestamp,
		}, ack)
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
