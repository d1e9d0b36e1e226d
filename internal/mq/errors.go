package mq

import (
	"errors"
	"fmt"
)

// Ошибки очереди.
var (
	// ErrConnection — брокер недоступен или соединение разорвано.
	// Все *ConnectionError сопоставляются с ним через errors.Is.
	ErrConnection = errors.New("broker connection failed")

	// ErrClosed — очередь уже закрыта вызовом Close.
	ErrClosed = errors.New("queue is closed")

	// ErrAlreadyAcknowledged — повторный ack/nack одной и той же доставки.
	ErrAlreadyAcknowledged = errors.New("delivery already acknowledged")

	// ErrEmptyQueueName — пустое имя очереди.
	ErrEmptyQueueName = errors.New("queue name is empty")
)

// ConnectionError — ошибка соединения с брокером.
// Addr содержит адрес брокера без учётных данных.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is позволяет проверять errors.Is(err, ErrConnection).
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
