package domain

import (
	"fmt"
	"time"
)

// ResultRecord — состояние задачи в хранилище результатов.
//
// Записи публикуются исполнителем в очередь результатов и сохраняются
// по ID задачи. Инварианты хранилища:
//   - финальная запись (DONE/CANCELLED/ERROR) больше не перезаписывается
//   - прогресс не убывает
type ResultRecord struct {
	JobID           string     `json:"jobId"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	Status          Status     `json:"status"`
	CancelQueueName string     `json:"cancelQueueName,omitempty"`
	Progress        int        `json:"progress"`
	Solution        []float64  `json:"solution,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// NewResult создаёт запись в статусе NEW для только что принятой задачи.
func NewResult(job Job) ResultRecord {
	return ResultRecord{
		JobID:     job.ID,
		CreatedAt: job.CreatedAt,
		Status:    StatusNew,
	}
}

// SetProgress устанавливает прогресс, проверяя диапазон 0..100.
func (r *ResultRecord) SetProgress(p int) error {
	if err := ValidateProgress(p); err != nil {
		return err
	}
	r.Progress = p
	return nil
}

// Finish переводит запись в финальный статус с текущим временем завершения.
func (r *ResultRecord) Finish(status Status, at time.Time) {
	r.Status = status
	t := at.UTC()
	r.FinishedAt = &t
}

// Validate проверяет поля записи.
func (r ResultRecord) Validate() error {
	if r.JobID == "" {
		return ErrEmptyJobID
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, r.Status)
	}
	return ValidateProgress(r.Progress)
}

// Supersedes решает, может ли запись r заменить prev в хранилище.
//
// prev == nil означает, что записи ещё нет. Для финальной r прогресс
// подтягивается до prev.Progress, чтобы он не убывал.
func (r *ResultRecord) Supersedes(prev *ResultRecord) error {
	if prev == nil {
		return nil
	}
	if prev.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalRecord, prev.JobID, prev.Status)
	}
	if r.Progress < prev.Progress {
		if !r.Status.IsTerminal() {
			return fmt.Errorf("%w: %d < %d", ErrProgressRegression, r.Progress, prev.Progress)
		}
		r.Progress = prev.Progress
	}
	if r.CancelQueueName == "" {
		r.CancelQueueName = prev.CancelQueueName
	}
	return nil
}

// ValidateProgress проверяет, что процент лежит в 0..100.
func ValidateProgress(p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidProgress, p)
	}
	return nil
}
