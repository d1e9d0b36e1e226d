package domain

import "fmt"

// Status — статус задачи в хранилище результатов.
//
// Жизненный цикл:
//
//	NEW → IN_PROGRESS → DONE
//	                  ↘ ERROR
//	(или) → CANCELLED (из NEW или IN_PROGRESS)
type Status string

const (
	// StatusNew — задача принята, исполнитель ещё не взял её в работу.
	StatusNew Status = "NEW"

	// StatusInProgress — задача отправлена солверу и опрашивается.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusDone — решение получено.
	StatusDone Status = "DONE"

	// StatusCancelled — задача отменена пользователем или остановкой исполнителя.
	StatusCancelled Status = "CANCELLED"

	// StatusError — задача завершилась с ошибкой (солвер, таймаут, неверные данные).
	StatusError Status = "ERROR"
)

// IsTerminal возвращает true, если статус финальный.
// После финального статуса запись больше не меняется.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус входит в перечисление.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusDone, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// ParseStatus разбирает строковое представление статуса.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}
