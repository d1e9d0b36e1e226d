package mq

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HeaderMessageID — заголовок с уникальным ID сообщения.
const HeaderMessageID = "message-id"

// Message — типизированный конверт сообщения.
//
// Конверт неизменяем после создания: NewMessage копирует заголовки,
// а чтение идёт через Header.
type Message[T any] struct {
	// Payload — полезная нагрузка.
	Payload T

	// Headers — заголовки сообщения.
	Headers map[string]any

	// Timestamp — время создания.
	Timestamp time.Time
}

// NewMessage создаёт сообщение с текущим временем.
// Если заголовок message-id не задан, он генерируется.
func NewMessage[T any](payload T, headers map[string]any) Message[T] {
	h := maps.Clone(headers)
	if h == nil {
		h = make(map[string]any, 1)
	}
	if _, ok := h[HeaderMessageID]; !ok {
		h[HeaderMessageID] = uuid.NewString()
	}

	return Message[T]{
		Payload:   payload,
		Headers:   h,
		Timestamp: time.Now().UTC(),
	}
}

// Header возвращает значение заголовка.
func (m Message[T]) Header(key string) (any, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// RawMessage — сообщение на уровне байтов, как его видит брокер.
type RawMessage struct {
	Body      []byte
	Headers   map[string]any
	Timestamp time.Time
}

// Acknowledger подтверждает или отклоняет одну доставку.
// Использовать можно только один раз: повторный вызов возвращает ErrAlreadyAcknowledged.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// RawHandler обрабатывает сообщение на уровне байтов.
// Обработчик сам отвечает за ack/nack.
type RawHandler func(ctx context.Context, msg RawMessage, ack Acknowledger)

// Handler обрабатывает типизированное сообщение.
type Handler[T any] func(ctx context.Context, msg Message[T], ack Acknowledger)

// Subscription — активная подписка на очередь.
type Subscription interface {
	Close() error
}

// OnceAcknowledger — Acknowledger, пропускающий к брокеру только первый вызов.
type OnceAcknowledger struct {
	done atomic.Bool
	ack  func() error
	nack func(requeue bool) error
}

// NewAcknowledger оборачивает функции подтверждения конкретной доставки.
func NewAcknowledger(ack func() error, nack func(requeue bool) error) *OnceAcknowledger {
	return &OnceAcknowledger{ack: ack, nack: nack}
}

func (a *OnceAcknowledger) Ack() error {
	if !a.done.CompareAndSwap(false, true) {
		return ErrAlreadyAcknowledged
	}
	return a.ack()
}

func (a *OnceAcknowledger) Nack(requeue bool) error {
	if !a.done.CompareAndSwap(false, true) {
		return ErrAlreadyAcknowledged
	}
	return a.nack(requeue)
}

// Settled сообщает, была ли доставка уже подтверждена или отклонена.
func (a *OnceAcknowledger) Settled() bool {
	return a.done.Load()
}
