package solver

import "errors"

// Ошибки реестра.
var (
	// ErrUnsupportedMethod — метод не реализован этим солвером.
	ErrUnsupportedMethod = errors.New("unsupported solving method")

	// ErrDuplicateJob — задача с таким ID уже есть в реестре.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrUnknownJob — задачи нет в реестре (не было или уже удалена).
	ErrUnknownJob = errors.New("unknown job")

	// ErrNotRunning — задача уже в финальном статусе.
	ErrNotRunning = errors.New("job is not running")
)
