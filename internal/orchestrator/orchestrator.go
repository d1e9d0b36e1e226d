package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/solverclient"
)

// Default configuration values.
const (
	defaultPollInterval    = time.Second
	defaultTaskTimeout     = 600 * time.Second
	defaultInitialProgress = 30
	defaultShutdownTimeout = 30 * time.Second
)

// HeaderExecutor — заголовок результата с ID исполнителя.
const HeaderExecutor = "executor"

// SolverClient — удалённый солвер, которым управляет оркестратор.
type SolverClient interface {
	Submit(ctx context.Context, job domain.Job) (solverclient.SubmitResult, error)
	PollStatus(ctx context.Context, jobID string) (solverclient.StatusResult, error)
	Cancel(ctx context.Context, jobID string) (solverclient.SubmitResult, error)
}

// Orchestrator ведёт задачи из очереди задач через удалённый солвер.
//
// Orchestrator:
//   - Получает задачи из очереди (prefetch 1, по одной на исполнителя)
//   - Отправляет задачу солверу и опрашивает её статус
//   - Повторяет опрос только после временных сбоев транспорта
//   - Публикует прогресс и финальный результат в очередь результатов
//   - Слушает очередь отмены своей задачи
//   - Всегда подтверждает сообщение задачи
type Orchestrator struct {
	queue  mq.Queue
	solver SolverClient

	jobQueue          string
	resultQueue       string
	cancelQueuePrefix string
	executorID        string

	pollInterval    time.Duration
	taskTimeout     time.Duration
	initialProgress int
	shutdownTimeout time.Duration
	classifier      solverclient.Classifier

	// Active jobs — задачи в процессе выполнения (jobID → state)
	activeJobs map[string]*jobState
	mu         sync.RWMutex

	sub mq.Subscription

	// handlers — обработчики задач, которые ещё не подтвердили сообщение
	handlers sync.WaitGroup

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Queue  mq.Queue
	Solver SolverClient

	// Queues
	JobQueue          string // default: mdds.jobs
	ResultQueue       string // default: mdds.results
	CancelQueuePrefix string // default: mdds.cancel.

	// ExecutorID попадает в заголовок executor каждого результата.
	ExecutorID string

	// Polling configuration
	PollInterval    time.Duration // интервал опроса (default: 1s)
	TaskTimeout     time.Duration // общее время опроса задачи (default: 600s)
	InitialProgress int           // прогресс после успешной отправки (default: 30)

	// ShutdownTimeout — сколько Stop ждёт публикации результата и ack
	// прерванной задачи (default: 30s). Должен превышать таймаут вызова солвера.
	ShutdownTimeout time.Duration

	// TransientCodes — коды gRPC, после которых опрос повторяется.
	// Пустой список — solverclient.DefaultTransientCodes.
	TransientCodes []codes.Code

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}

	initialProgress := cfg.InitialProgress
	if initialProgress <= 0 || initialProgress >= 100 {
		initialProgress = defaultInitialProgress
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		queue:             cfg.Queue,
		solver:            cfg.Solver,
		jobQueue:          valueOr(cfg.JobQueue, mq.DefaultJobQueue),
		resultQueue:       valueOr(cfg.ResultQueue, mq.DefaultResultQueue),
		cancelQueuePrefix: valueOr(cfg.CancelQueuePrefix, mq.DefaultCancelQueuePrefix),
		executorID:        cfg.ExecutorID,
		pollInterval:      pollInterval,
		taskTimeout:       taskTimeout,
		initialProgress:   initialProgress,
		shutdownTimeout:   shutdownTimeout,
		classifier:        solverclient.NewClassifier(cfg.TransientCodes...),
		activeJobs:        make(map[string]*jobState),
		logger:            logger,
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Start подписывается на очередь задач.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.sub != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"job_queue", o.jobQueue,
		"result_queue", o.resultQueue,
		"poll_interval", o.pollInterval,
		"task_timeout", o.taskTimeout,
	)

	sub, err := mq.Subscribe[domain.Job](ctx, o.queue, o.jobQueue, o.handleJob)
	if err != nil {
		cancel()
		return err
	}
	o.sub = sub

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
//
// Текущая задача прерывается: публикуется CANCELLED, сообщение подтверждается.
// Подписка закрывается после завершения обработчика, но не позже shutdownTimeout.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	if !o.waitHandlers(o.shutdownTimeout) {
		o.logger.Warn("job handler still running, closing subscription anyway",
			"timeout", o.shutdownTimeout,
			"active_jobs", o.ActiveJobsCount(),
		)
	}

	if o.sub != nil {
		if err := o.sub.Close(); err != nil {
			o.logger.Warn("failed to close job subscription", "error", err)
		}
	}

	o.logger.Info("orchestrator stopped",
		"active_jobs", o.ActiveJobsCount(),
	)
}

// waitHandlers ждёт завершения обработчиков задач.
func (o *Orchestrator) waitHandlers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		o.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// beginHandler регистрирует обработчик. После Stop возвращает false.
func (o *Orchestrator) beginHandler() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()

	if o.stopped {
		return false
	}
	o.handlers.Add(1)
	return true
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// addActiveJob добавляет задачу в активные.
func (o *Orchestrator) addActiveJob(state *jobState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeJobs[state.job.ID]; exists {
		return ErrJobAlreadyActive
	}

	o.activeJobs[state.job.ID] = state
	return nil
}

// removeActiveJob удаляет задачу из активных.
func (o *Orchestrator) removeActiveJob(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeJobs, jobID)
}

// ActiveJobsCount возвращает количество активных задач.
func (o *Orchestrator) ActiveJobsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeJobs)
}

// GetActiveJobStats возвращает статистику по активной задаче.
func (o *Orchestrator) GetActiveJobStats(jobID string) (JobStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.activeJobs[jobID]
	if !exists {
		return JobStats{}, false
	}

	return state.Stats(), true
}
