// Package mqtest — брокер в памяти, реализующий mq.Queue, для тестов.
package mqtest

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/shaiso/mdds/internal/mq"
)

// AckEvent — зафиксированное подтверждение доставки.
type AckEvent struct {
	Queue   string
	Body    []byte
	Ack     bool
	Requeue bool
}

// Broker — брокер в памяти.
//
// Сообщения доставляются подписчикам последовательно, следующее после
// возврата обработчика. Nack с requeue возвращает сообщение в конец очереди.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues    map[string]*queue
	declares  map[string]int
	published map[string][]mq.RawMessage
	acks      []AckEvent
	deleted   map[string]int

	down   bool
	closed bool
}

type queue struct {
	pending []mq.RawMessage
}

var _ mq.Queue = (*Broker)(nil)

// NewBroker создаёт пустой брокер.
func NewBroker() *Broker {
	b := &Broker{
		queues:    make(map[string]*queue),
		declares:  make(map[string]int),
		published: make(map[string][]mq.RawMessage),
		deleted:   make(map[string]int),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SetDown имитирует потерю соединения: операции возвращают *mq.ConnectionError.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *Broker) check(op string) error {
	if b.closed {
		return mq.ErrClosed
	}
	if b.down {
		return &mq.ConnectionError{Op: op, Addr: "memory", Err: errors.New("broker is down")}
	}
	return nil
}

// declare вызывается под mu.
func (b *Broker) declare(name string) *queue {
	b.declares[name]++
	q, ok := b.queues[name]
	if !ok {
		q = &queue{}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) Publish(_ context.Context, name string, msg mq.RawMessage) error {
	if name == "" {
		return mq.ErrEmptyQueueName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check("publish to " + name); err != nil {
		return err
	}

	msg.Headers = maps.Clone(msg.Headers)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	q := b.declare(name)
	q.pending = append(q.pending, msg)
	b.published[name] = append(b.published[name], msg)
	b.cond.Broadcast()
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, name string, h mq.RawHandler) (mq.Subscription, error) {
	if name == "" {
		return nil, mq.ErrEmptyQueueName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check("consume " + name); err != nil {
		return nil, err
	}

	s := &subscription{
		broker: b,
		name:   name,
		q:      b.declare(name),
		done:   make(chan struct{}),
	}
	go s.run(ctx, h)
	return s, nil
}

func (b *Broker) DeleteQueue(_ context.Context, name string) error {
	if name == "" {
		return mq.ErrEmptyQueueName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check("delete queue " + name); err != nil {
		return err
	}

	if q, ok := b.queues[name]; ok {
		q.pending = nil
		delete(b.queues, name)
	}
	b.deleted[name]++
	b.cond.Broadcast()
	return nil
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && !b.down
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Published возвращает все сообщения, опубликованные в очередь.
func (b *Broker) Published(name string) []mq.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mq.RawMessage(nil), b.published[name]...)
}

// Declared возвращает число объявлений очереди.
func (b *Broker) Declared(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declares[name]
}

// Exists сообщает, существует ли очередь.
func (b *Broker) Exists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// Deleted возвращает число удалений очереди.
func (b *Broker) Deleted(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleted[name]
}

// Acks возвращает все ack/nack в порядке вызова.
func (b *Broker) Acks() []AckEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]AckEvent(nil), b.acks...)
}

// WaitPublished ждёт, пока в очередь будет опубликовано не меньше n сообщений.
func (b *Broker) WaitPublished(name string, n int, timeout time.Duration) ([]mq.RawMessage, bool) {
	return waitFor(timeout, func() ([]mq.RawMessage, bool) {
		msgs := b.Published(name)
		return msgs, len(msgs) >= n
	})
}

// WaitAcks ждёт, пока накопится не меньше n подтверждений.
func (b *Broker) WaitAcks(n int, timeout time.Duration) ([]AckEvent, bool) {
	return waitFor(timeout, func() ([]AckEvent, bool) {
		acks := b.Acks()
		return acks, len(acks) >= n
	})
}

func waitFor[T any](timeout time.Duration, cond func() (T, bool)) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		v, ok := cond()
		if ok || time.Now().After(deadline) {
			return v, ok
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type subscription struct {
	broker *Broker
	name   string
	q      *queue

	stopped bool // под broker.mu
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) run(ctx context.Context, h mq.RawHandler) {
	defer close(s.done)
	b := s.broker

	for {
		b.mu.Lock()
		for !s.stopped && !b.closed && len(s.q.pending) == 0 {
			b.cond.Wait()
		}
		if s.stopped || b.closed {
			b.mu.Unlock()
			return
		}
		msg := s.q.pending[0]
		s.q.pending = s.q.pending[1:]
		b.mu.Unlock()

		s.dispatch(ctx, msg, h)
	}
}

func (s *subscription) dispatch(ctx context.Context, msg mq.RawMessage, h mq.RawHandler) {
	b := s.broker

	acker := mq.NewAcknowledger(
		func() error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.acks = append(b.acks, AckEvent{Queue: s.name, Body: msg.Body, Ack: true})
			return nil
		},
		func(requeue bool) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.acks = append(b.acks, AckEvent{Queue: s.name, Body: msg.Body, Requeue: requeue})
			if requeue {
				s.q.pending = append(s.q.pending, msg)
				b.cond.Broadcast()
			}
			return nil
		},
	)

	defer func() {
		if r := recover(); r != nil && !acker.Settled() {
			_ = acker.Nack(false)
		}
	}()

	h(ctx, msg, acker)
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		s.stopped = true
		s.broker.cond.Broadcast()
		s.broker.mu.Unlock()
		<-s.done
	})
	return nil
}
