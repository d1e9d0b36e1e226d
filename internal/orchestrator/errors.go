package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrInvalidTransition — недопустимый переход состояния задачи.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobAlreadyActive — задача с таким ID уже обрабатывается этим исполнителем.
	ErrJobAlreadyActive = errors.New("job already being processed")

	// ErrAlreadyStarted — Start вызван повторно.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)
