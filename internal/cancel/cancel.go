// Package cancel сопоставляет запрос отмены с очередью отмены задачи.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/store"
)

var (
	// ErrNoResult — для задачи нет записи в хранилище.
	ErrNoResult = errors.New("no result for job")

	// ErrAlreadyTerminal — задача уже в финальном статусе.
	ErrAlreadyTerminal = errors.New("job already finished")

	// ErrNoCancelQueue — исполнитель ещё не создал очередь отмены.
	ErrNoCancelQueue = errors.New("job has no cancel queue yet")
)

// Correlator — CancelCorrelator.
//
// Читает запись задачи и публикует CancelRequest в её очередь отмены.
// Повторов нет: вызывающий решает сам, повторять ли запрос.
type Correlator struct {
	store  store.Store
	queue  mq.Queue
	logger *slog.Logger
}

func NewCorrelator(s store.Store, q mq.Queue, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{store: s, queue: q, logger: logger}
}

// Cancel отправляет запрос отмены задачи jobID.
//
// Гонка «прочитали IN_PROGRESS, а задача уже завершилась» допустима:
// финальная запись в хранилище не перезаписывается.
func (c *Correlator) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return domain.ErrEmptyJobID
	}

	rec, ok, err := store.Get[domain.ResultRecord](ctx, c.store, jobID)
	if err != nil {
		return fmt.Errorf("read result %s: %w", jobID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoResult, jobID)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, jobID, rec.Status)
	}
	if rec.CancelQueueName == "" {
		return fmt.Errorf("%w: %s", ErrNoCancelQueue, jobID)
	}

	msg := mq.NewMessage(domain.CancelRequest{JobID: jobID}, map[string]any{"job-id": jobID})
	if err := mq.Publish(ctx, c.queue, rec.CancelQueueName, msg); err != nil {
		return fmt.Errorf("publish cancel request for %s: %w", jobID, err)
	}

	c.logger.Info("cancel request sent", "job_id", jobID, "queue", rec.CancelQueueName)
	return nil
}
