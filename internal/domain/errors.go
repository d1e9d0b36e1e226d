package domain

import "errors"

// Ошибки доменной модели.
var (
	// ErrInvalidProgress — прогресс вне диапазона 0..100.
	ErrInvalidProgress = errors.New("progress must be within 0..100")

	// ErrUnknownStatus — строка не является статусом задачи.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrUnknownMethod — строка не является методом решения.
	ErrUnknownMethod = errors.New("unknown solving method")

	// ErrTerminalRecord — запись уже в финальном статусе и не может быть перезаписана.
	ErrTerminalRecord = errors.New("record is already terminal")

	// ErrProgressRegression — новая запись уменьшает прогресс.
	ErrProgressRegression = errors.New("progress must not decrease")

	// ErrEmptyJobID — у задачи нет идентификатора.
	ErrEmptyJobID = errors.New("job id is empty")
)
