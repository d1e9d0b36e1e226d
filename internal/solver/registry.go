package solver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/solverapi"
)

// Default configuration values.
const (
	defaultJobTimeout = 600 * time.Second
	defaultResultTTL  = 300 * time.Second
	defaultSweepSpec  = "@every 1s"
)

// sweepParser — парсер расписания уборщика. Допускает @every и секунды.
var sweepParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSweepSpec проверяет расписание уборщика.
func ValidateSweepSpec(spec string) error {
	if _, err := sweepParser.Parse(spec); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return nil
}

// Snapshot — состояние задачи на момент запроса.
type Snapshot struct {
	Status   solverapi.JobStatus
	Progress int
	Started  time.Time
	Ended    time.Time
	Solution []float64
	Message  string
}

type job struct {
	id        string
	status    solverapi.JobStatus
	progress  int
	started   time.Time
	ended     time.Time
	solution  []float64
	message   string
	delivered bool
	cancel    context.CancelFunc
}

func (j *job) snapshot() Snapshot {
	return Snapshot{
		Status:   j.status,
		Progress: j.progress,
		Started:  j.started,
		Ended:    j.ended,
		Solution: j.solution,
		Message:  j.message,
	}
}

// RegistryConfig — параметры реестра задач.
type RegistryConfig struct {
	Methods map[domain.SolvingMethod]Method

	// JobTimeout — после него задача переводится в ERROR (default: 600s).
	JobTimeout time.Duration

	// ResultTTL — сколько хранится финальная задача (default: 300s).
	ResultTTL time.Duration

	// SweepSpec — расписание уборщика в формате cron (default: "@every 1s").
	SweepSpec string

	Logger *slog.Logger
}

// Registry хранит задачи солвера и решает их в отдельных горутинах.
//
// Уборщик по расписанию переводит зависшие задачи в ERROR и удаляет
// финальные задачи старше ResultTTL.
type Registry struct {
	methods    map[domain.SolvingMethod]Method
	jobTimeout time.Duration
	resultTTL  time.Duration
	sweepSpec  string
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	jobs map[string]*job

	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewRegistry создаёт реестр.
func NewRegistry(cfg RegistryConfig) *Registry {
	methods := cfg.Methods
	if methods == nil {
		methods = DefaultMethods()
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	resultTTL := cfg.ResultTTL
	if resultTTL <= 0 {
		resultTTL = defaultResultTTL
	}
	sweepSpec := cfg.SweepSpec
	if sweepSpec == "" {
		sweepSpec = defaultSweepSpec
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		methods:    methods,
		jobTimeout: jobTimeout,
		resultTTL:  resultTTL,
		sweepSpec:  sweepSpec,
		logger:     logger,
		now:        time.Now,
		jobs:       make(map[string]*job),
	}
}

// Start запускает уборщика.
func (r *Registry) Start() error {
	c := cron.New(cron.WithParser(sweepParser))
	if _, err := c.AddFunc(r.sweepSpec, func() { r.Sweep(r.now()) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", r.sweepSpec, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("registry started",
		"job_timeout", r.jobTimeout,
		"result_ttl", r.resultTTL,
		"sweep", r.sweepSpec,
	)
	return nil
}

// Stop останавливает уборщика и отменяет выполняющиеся задачи.
func (r *Registry) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}

	r.mu.Lock()
	for _, j := range r.jobs {
		if j.cancel != nil {
			j.cancel()
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("registry stopped")
}

// Supports сообщает, реализован ли метод.
func (r *Registry) Supports(method domain.SolvingMethod) bool {
	_, ok := r.methods[method]
	return ok
}

// Submit регистрирует задачу и запускает решение.
func (r *Registry) Submit(id string, method domain.SolvingMethod, matrix [][]float64, rhs []float64) error {
	m, ok := r.methods[method]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	r.mu.Lock()
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:      id,
		status:  solverapi.JobInProgress,
		started: r.now(),
		cancel:  cancel,
	}
	r.jobs[id] = j
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(ctx, j, m, matrix, rhs)
	}()

	r.logger.Info("job accepted", "job_id", id, "method", method, "rows", len(matrix))
	return nil
}

// run решает систему и фиксирует результат, если задачу не отменили раньше.
func (r *Registry) run(ctx context.Context, j *job, m Method, matrix [][]float64, rhs []float64) {
	a, b, err := buildSystem(matrix, rhs)
	if err == nil {
		r.setProgress(j, 50)
		err = ctx.Err()
	}

	var solution []float64
	if err == nil {
		solution, err = solveGuarded(m, a, b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if j.status != solverapi.JobInProgress {
		return
	}

	j.ended = r.now()
	if err != nil {
		j.status = solverapi.JobError
		j.message = err.Error()
		r.logger.Warn("job failed", "job_id", j.id, "error", err)
		return
	}

	j.status = solverapi.JobDone
	j.progress = 100
	j.solution = solution
	j.message = "solved"
	r.logger.Info("job solved", "job_id", j.id, "duration", j.ended.Sub(j.started))
}

func solveGuarded(m Method, a *mat.Dense, b *mat.VecDense) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverError(r)
		}
	}()
	return m.Solve(a, b)
}

func (r *Registry) setProgress(j *job, p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.status == solverapi.JobInProgress && p > j.progress {
		j.progress = p
	}
}

// Status возвращает снимок задачи. Финальный снимок помечает задачу доставленной.
func (r *Registry) Status(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	if j.status.IsTerminal() {
		j.delivered = true
	}
	return j.snapshot(), true
}

// Cancel отменяет выполняющуюся задачу.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if j.status != solverapi.JobInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, j.status)
	}

	j.cancel()
	j.status = solverapi.JobCancelled
	j.ended = r.now()
	j.message = "cancelled by request"

	r.logger.Info("job cancelled", "job_id", id)
	return nil
}

// Sweep переводит в ERROR задачи, превысившие JobTimeout, и удаляет
// финальные задачи старше ResultTTL.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, j := range r.jobs {
		switch {
		case j.status == solverapi.JobInProgress && now.Sub(j.started) > r.jobTimeout:
			j.cancel()
			j.status = solverapi.JobError
			j.ended = now
			j.message = fmt.Sprintf("Timeout for job %s", id)
			r.logger.Warn("job timed out", "job_id", id, "timeout", r.jobTimeout)

		case j.status.IsTerminal() && now.Sub(j.ended) > r.resultTTL:
			delete(r.jobs, id)
			if !j.delivered {
				r.logger.Warn("evicting undelivered result", "job_id", id, "status", j.status)
			} else {
				r.logger.Debug("job evicted", "job_id", id)
			}
		}
	}
}

// Len возвращает число задач в реестре.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
