package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/mdds/internal/domain"
)

// Phase — состояние задачи внутри исполнителя.
//
// Жизненный цикл:
//
//	RECEIVED → SUBMITTED → POLLING → DONE
//	                               ↘ CANCELLED
//	                               ↘ ERROR
//	(или) → ERROR (из RECEIVED, если солвер не принял задачу)
type Phase string

const (
	PhaseReceived  Phase = "RECEIVED"
	PhaseSubmitted Phase = "SUBMITTED"
	PhasePolling   Phase = "POLLING"
	PhaseDone      Phase = "DONE"
	PhaseCancelled Phase = "CANCELLED"
	PhaseError     Phase = "ERROR"
)

// IsTerminal возвращает true для DONE, CANCELLED и ERROR.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseDone, PhaseCancelled, PhaseError:
		return true
	default:
		return false
	}
}

// transitions — допустимые переходы.
var transitions = map[Phase][]Phase{
	PhaseReceived:  {PhaseSubmitted, PhaseError, PhaseCancelled},
	PhaseSubmitted: {PhasePolling, PhaseError, PhaseCancelled},
	PhasePolling:   {PhaseDone, PhaseError, PhaseCancelled},
}

// phaseFor возвращает финальную фазу для статуса результата.
func phaseFor(s domain.Status) Phase {
	switch s {
	case domain.StatusDone:
		return PhaseDone
	case domain.StatusCancelled:
		return PhaseCancelled
	default:
		return PhaseError
	}
}

// jobState — состояние одной задачи в памяти.
//
// Создаётся при получении задачи и удаляется после публикации
// финального результата.
type jobState struct {
	job     domain.Job
	started time.Time

	// watch используется только горутиной обработчика.
	watch *cancelWatch

	mu          sync.Mutex
	phase       Phase
	progress    int
	cancelQueue string
}

func newJobState(job domain.Job) *jobState {
	return &jobState{
		job:     job,
		started: time.Now(),
		phase:   PhaseReceived,
	}
}

// transition переводит задачу в новую фазу.
func (s *jobState) transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range transitions[s.phase] {
		if allowed == to {
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.phase, to)
}

// Phase возвращает текущую фазу.
func (s *jobState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// advanceProgress поднимает прогресс до p. Возвращает false, если p не больше
// текущего или выходит за пределы 1..99: 100 ставится только при DONE.
func (s *jobState) advanceProgress(p int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p <= s.progress || p >= 100 || p < 1 {
		return false
	}
	s.progress = p
	return true
}

func (s *jobState) setCancelQueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelQueue = name
}

// result создаёт запись с текущим прогрессом и именем очереди отмены.
func (s *jobState) result(status domain.Status) domain.ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.ResultRecord{
		JobID:           s.job.ID,
		CreatedAt:       s.job.CreatedAt,
		Status:          status,
		CancelQueueName: s.cancelQueue,
		Progress:        s.progress,
	}
}

// JobStats — статистика по активной задаче.
type JobStats struct {
	JobID    string
	Phase    Phase
	Progress int
	Elapsed  time.Duration
}

// Stats возвращает статистику.
func (s *jobState) Stats() JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return JobStats{
		JobID:    s.job.ID,
		Phase:    s.phase,
		Progress: s.progress,
		Elapsed:  time.Since(s.started),
	}
}
