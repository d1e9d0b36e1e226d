package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/mdds/internal/cancel"
	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/store"
)

// Client — доступ CLI к очереди задач и хранилищу результатов.
type Client struct {
	queue    mq.Queue
	store    store.Store
	jobQueue string
	cancel   *cancel.Correlator

	closeFn func() error
}

// ClientConfig — параметры Client.
type ClientConfig struct {
	Queue    mq.Queue
	Store    store.Store
	JobQueue string // default: mdds.jobs
	Logger   *slog.Logger

	// Close освобождает соединения. Может быть nil.
	Close func() error
}

func NewClient(cfg ClientConfig) *Client {
	jobQueue := cfg.JobQueue
	if jobQueue == "" {
		jobQueue = mq.DefaultJobQueue
	}
	return &Client{
		queue:    cfg.Queue,
		store:    cfg.Store,
		jobQueue: jobQueue,
		cancel:   cancel.NewCorrelator(cfg.Store, cfg.Queue, cfg.Logger),
		closeFn:  cfg.Close,
	}
}

// Submit создаёт задачу с новым ID, сохраняет NEW и публикует задачу.
//
// NEW сохраняется до публикации: иначе он мог бы затереть IN_PROGRESS
// от исполнителя.
func (c *Client) Submit(ctx context.Context, matrix [][]float64, rhs []float64, method domain.SolvingMethod) (domain.Job, error) {
	job := domain.NewJob(uuid.NewString(), matrix, rhs, method)
	if err := job.Validate(); err != nil {
		return job, err
	}

	if err := c.store.Put(ctx, job.ID, domain.NewResult(job)); err != nil {
		return job, fmt.Errorf("store NEW record: %w", err)
	}

	msg := mq.NewMessage(job, map[string]any{"job-id": job.ID})
	if err := mq.Publish(ctx, c.queue, c.jobQueue, msg); err != nil {
		return job, fmt.Errorf("publish job: %w", err)
	}
	return job, nil
}

// Cancel отправляет запрос отмены.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.cancel.Cancel(ctx, jobID)
}

// Result читает запись задачи.
func (c *Client) Result(ctx context.Context, jobID string) (domain.ResultRecord, error) {
	rec, ok, err := store.Get[domain.ResultRecord](ctx, c.store, jobID)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, fmt.Errorf("%w: %s", cancel.ErrNoResult, jobID)
	}
	return rec, nil
}

func (c *Client) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}
