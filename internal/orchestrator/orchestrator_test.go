package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/mq/mqtest"
	"github.com/shaiso/mdds/internal/solver"
	"github.com/shaiso/mdds/internal/solverapi"
	"github.com/shaiso/mdds/internal/solverapi/solvertest"
	"github.com/shaiso/mdds/internal/solverclient"
)

const waitTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pollStep — один ответ на PollStatus.
type pollStep struct {
	res solverclient.StatusResult
	err error
}

func inProgress(p int) pollStep {
	return pollStep{res: solverclient.StatusResult{
		Request:  solverapi.RequestCompleted,
		Job:      solverapi.JobInProgress,
		Progress: p,
	}}
}

func done(solution ...float64) pollStep {
	return pollStep{res: solverclient.StatusResult{
		Request:  solverapi.RequestCompleted,
		Job:      solverapi.JobDone,
		Progress: 100,
		Solution: solution,
	}}
}

func failed(c codes.Code) pollStep {
	return pollStep{err: status.Error(c, "injected")}
}

// scriptedSolver отвечает по заранее заданному сценарию.
// Последний шаг опроса повторяется бесконечно.
type scriptedSolver struct {
	mu      sync.Mutex
	submit  func(ctx context.Context, job domain.Job) (solverclient.SubmitResult, error)
	steps   []pollStep
	polls   int
	cancels []string

	// cancelDelay — задержка ответа на Cancel, как у зависшего солвера
	cancelDelay time.Duration
}

func (s *scriptedSolver) Submit(ctx context.Context, job domain.Job) (solverclient.SubmitResult, error) {
	if s.submit != nil {
		return s.submit(ctx, job)
	}
	return solverclient.SubmitResult{Status: solverapi.RequestCompleted}, nil
}

func (s *scriptedSolver) PollStatus(_ context.Context, _ string) (solverclient.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := min(s.polls, len(s.steps)-1)
	s.polls++
	return s.steps[i].res, s.steps[i].err
}

func (s *scriptedSolver) Cancel(_ context.Context, jobID string) (solverclient.SubmitResult, error) {
	time.Sleep(s.cancelDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, jobID)
	return solverclient.SubmitResult{Status: solverapi.RequestCompleted}, nil
}

func (s *scriptedSolver) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *scriptedSolver) cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancels...)
}

// startOrchestrator запускает оркестратор поверх брокера в памяти.
func startOrchestrator(t *testing.T, sc SolverClient, mutate func(*Config)) (*Orchestrator, *mqtest.Broker) {
	t.Helper()

	broker := mqtest.NewBroker()
	cfg := Config{
		Queue:        broker,
		Solver:       sc,
		ExecutorID:   "executor-test",
		PollInterval: 10 * time.Millisecond,
		TaskTimeout:  waitTimeout,
		Logger:       discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	o := New(cfg)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(o.Stop)
	return o, broker
}

// realSolver поднимает солвер на gonum за bufconn.
func realSolver(t *testing.T) *solverclient.Client {
	t.Helper()

	reg := solver.NewRegistry(solver.RegistryConfig{Logger: discardLogger()})
	t.Cleanup(reg.Stop)

	conn := solvertest.Serve(t, solver.NewServer(reg, discardLogger()))
	return solverclient.NewWithConn(conn, solverclient.Config{Logger: discardLogger()})
}

func submitJob(t *testing.T, broker *mqtest.Broker, job domain.Job) {
	t.Helper()
	if err := mq.Publish(context.Background(), broker, mq.DefaultJobQueue, mq.NewMessage(job, nil)); err != nil {
		t.Fatalf("publish job: %v", err)
	}
}

func decodeResults(t *testing.T, msgs []mq.RawMessage) []domain.ResultRecord {
	t.Helper()
	out := make([]domain.ResultRecord, 0, len(msgs))
	for _, m := range msgs {
		var rec domain.ResultRecord
		if err := json.Unmarshal(m.Body, &rec); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

// waitResults ждёт n результатов.
func waitResults(t *testing.T, broker *mqtest.Broker, n int) []domain.ResultRecord {
	t.Helper()
	msgs, ok := broker.WaitPublished(mq.DefaultResultQueue, n, waitTimeout)
	if !ok {
		t.Fatalf("expected %d results, got %d", n, len(msgs))
	}
	return decodeResults(t, msgs)
}

// waitFinal ждёт финальный результат и подтверждение сообщения задачи.
// Проверяет, что финальный результат ровно один и он последний.
func waitFinal(t *testing.T, broker *mqtest.Broker) []domain.ResultRecord {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for {
		recs := decodeResults(t, broker.Published(mq.DefaultResultQueue))
		if n := len(recs); n > 0 && recs[n-1].Status.IsTerminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminal result, got %+v", recs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitJobAck(t, broker)

	recs := decodeResults(t, broker.Published(mq.DefaultResultQueue))
	terminal := 0
	for i, rec := range recs {
		if rec.Status.IsTerminal() {
			terminal++
			if i != len(recs)-1 {
				t.Errorf("terminal result %s is not the last one", rec.Status)
			}
		}
	}
	if terminal != 1 {
		t.Errorf("expected exactly one terminal result, got %d", terminal)
	}
	return recs
}

func jobAcks(broker *mqtest.Broker) []mqtest.AckEvent {
	var out []mqtest.AckEvent
	for _, ev := range broker.Acks() {
		if ev.Queue == mq.DefaultJobQueue {
			out = append(out, ev)
		}
	}
	return out
}

func waitJobAck(t *testing.T, broker *mqtest.Broker) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for len(jobAcks(broker)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job message was not settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertAckedOnce(t *testing.T, broker *mqtest.Broker) {
	t.Helper()
	acks := jobAcks(broker)
	if len(acks) != 1 {
		t.Fatalf("expected 1 settlement of job message, got %d", len(acks))
	}
	if !acks[0].Ack {
		t.Error("job message should be acked, not nacked")
	}
}

func progresses(recs []domain.ResultRecord) []int {
	out := make([]int, len(recs))
	for i, rec := range recs {
		out[i] = rec.Progress
	}
	return out
}

func tridiagonal() ([][]float64, []float64) {
	return [][]float64{
		{4, 1, 0, 0},
		{1, 4, 1, 0},
		{0, 1, 4, 1},
		{0, 0, 1, 4},
	}, []float64{5, 6, 6, 5}
}

// --- Phase Tests ---

func TestPhase_IsTerminal(t *testing.T) {
	tests := []struct {
		phase    Phase
		terminal bool
	}{
		{PhaseReceived, false},
		{PhaseSubmitted, false},
		{PhasePolling, false},
		{PhaseDone, true},
		{PhaseCancelled, true},
		{PhaseError, true},
	}

	for _, tt := range tests {
		if got := tt.phase.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.phase, got, tt.terminal)
		}
	}
}

func TestPhaseFor(t *testing.T) {
	if got := phaseFor(domain.StatusDone); got != PhaseDone {
		t.Errorf("DONE → %s", got)
	}
	if got := phaseFor(domain.StatusCancelled); got != PhaseCancelled {
		t.Errorf("CANCELLED → %s", got)
	}
	if got := phaseFor(domain.StatusError); got != PhaseError {
		t.Errorf("ERROR → %s", got)
	}
}

// --- jobState Tests ---

func TestJobState_Transitions(t *testing.T) {
	state := newJobState(domain.Job{ID: "j1"})

	if state.Phase() != PhaseReceived {
		t.Fatalf("initial phase = %s", state.Phase())
	}
	for _, to := range []Phase{PhaseSubmitted, PhasePolling, PhaseDone} {
		if err := state.transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	err := state.transition(PhaseError)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after DONE, got %v", err)
	}
}

func TestJobState_SkipPolling(t *testing.T) {
	state := newJobState(domain.Job{ID: "j1"})

	if err := state.transition(PhaseDone); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RECEIVED → DONE should be rejected, got %v", err)
	}
	if err := state.transition(PhaseError); err != nil {
		t.Errorf("RECEIVED → ERROR should be allowed: %v", err)
	}
}

func TestJobState_AdvanceProgress(t *testing.T) {
	state := newJobState(domain.Job{ID: "j1"})

	tests := []struct {
		p    int
		want bool
	}{
		{30, true},
		{30, false},
		{20, false},
		{50, true},
		{100, false},
		{0, false},
		{-5, false},
		{99, true},
	}

	for _, tt := range tests {
		if got := state.advanceProgress(tt.p); got != tt.want {
			t.Errorf("advanceProgress(%d) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := state.Stats().Progress; got != 99 {
		t.Errorf("progress = %d, want 99", got)
	}
}

func TestJobState_Result(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	state := newJobState(domain.Job{ID: "j1", CreatedAt: created})
	state.advanceProgress(30)
	state.setCancelQueue("mdds.cancel.j1")

	rec := state.result(domain.StatusInProgress)

	if rec.JobID != "j1" || !rec.CreatedAt.Equal(created) {
		t.Errorf("unexpected identity: %+v", rec)
	}
	if rec.Progress != 30 {
		t.Errorf("progress = %d", rec.Progress)
	}
	if rec.CancelQueueName != "mdds.cancel.j1" {
		t.Errorf("cancel queue = %q", rec.CancelQueueName)
	}
	if rec.FinishedAt != nil {
		t.Error("IN_PROGRESS record must not have FinishedAt")
	}
}

// --- Config Tests ---

func TestNew_Defaults(t *testing.T) {
	o := New(Config{Queue: mqtest.NewBroker(), Solver: &scriptedSolver{}})

	if o.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v", o.pollInterval)
	}
	if o.taskTimeout != defaultTaskTimeout {
		t.Errorf("taskTimeout = %v", o.taskTimeout)
	}
	if o.initialProgress != defaultInitialProgress {
		t.Errorf("initialProgress = %d", o.initialProgress)
	}
	if o.shutdownTimeout != defaultShutdownTimeout {
		t.Errorf("shutdownTimeout = %v", o.shutdownTimeout)
	}
	if o.jobQueue != mq.DefaultJobQueue || o.resultQueue != mq.DefaultResultQueue {
		t.Errorf("queues = %s, %s", o.jobQueue, o.resultQueue)
	}
	if o.cancelQueuePrefix != mq.DefaultCancelQueuePrefix {
		t.Errorf("cancel prefix = %s", o.cancelQueuePrefix)
	}
}

func TestStart_Twice(t *testing.T) {
	o, _ := startOrchestrator(t, &scriptedSolver{steps: []pollStep{done()}}, nil)

	if err := o.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

// --- Scenario Tests ---

func TestOrchestrator_SolvesSystem(t *testing.T) {
	_, broker := startOrchestrator(t, realSolver(t), nil)

	matrix, rhs := tridiagonal()
	submitJob(t, broker, domain.NewJob("job-a", matrix, rhs, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	first := recs[0]
	if first.Status != domain.StatusInProgress || first.Progress != 30 {
		t.Errorf("first result = %s/%d, want IN_PROGRESS/30", first.Status, first.Progress)
	}
	if first.CancelQueueName != "mdds.cancel.job-a" {
		t.Errorf("cancel queue = %q", first.CancelQueueName)
	}

	last := recs[len(recs)-1]
	if last.Status != domain.StatusDone || last.Progress != 100 {
		t.Fatalf("final result = %s/%d, want DONE/100 (%s)", last.Status, last.Progress, last.ErrorMessage)
	}
	if last.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if len(last.Solution) != 4 {
		t.Fatalf("solution length = %d", len(last.Solution))
	}
	for i, x := range last.Solution {
		if math.Abs(x-1) > 1e-9 {
			t.Errorf("x[%d] = %v, want 1", i, x)
		}
	}
}

func TestOrchestrator_RaggedMatrix(t *testing.T) {
	_, broker := startOrchestrator(t, realSolver(t), nil)

	job := domain.NewJob("job-b", [][]float64{{1, 2}, {3}}, []float64{1, 2}, domain.MethodNumpyExact)
	submitJob(t, broker, job)

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	last := recs[len(recs)-1]
	if last.Status != domain.StatusError {
		t.Fatalf("status = %s, want ERROR", last.Status)
	}
	if !strings.Contains(last.ErrorMessage, "dimension mismatch") {
		t.Errorf("error message = %q", last.ErrorMessage)
	}
}

func TestOrchestrator_RetriesTransientPollErrors(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{
		failed(codes.Unavailable),
		failed(codes.Unavailable),
		done(1, 2),
	}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-c", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	last := recs[len(recs)-1]
	if last.Status != domain.StatusDone {
		t.Fatalf("status = %s (%s), want DONE", last.Status, last.ErrorMessage)
	}
	if got := sc.pollCount(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestOrchestrator_NonTransientPollError(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{failed(codes.InvalidArgument)}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-x", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	last := recs[len(recs)-1]
	if last.Status != domain.StatusError {
		t.Fatalf("status = %s, want ERROR", last.Status)
	}
	if !strings.HasPrefix(last.ErrorMessage, "status poll failed") {
		t.Errorf("error message = %q", last.ErrorMessage)
	}
	if got := sc.pollCount(); got != 1 {
		t.Errorf("polls = %d, want 1", got)
	}
}

func TestOrchestrator_CustomTransientCodes(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{failed(codes.Unavailable), done()}}
	_, broker := startOrchestrator(t, sc, func(cfg *Config) {
		cfg.TransientCodes = []codes.Code{codes.ResourceExhausted}
	})

	submitJob(t, broker, domain.NewJob("job-y", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	if last := recs[len(recs)-1]; last.Status != domain.StatusError {
		t.Errorf("Unavailable outside whitelist should fail the job, got %s", last.Status)
	}
}

func TestOrchestrator_CancelRequest(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(40)}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-d", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	first := waitResults(t, broker, 1)[0]

	cancelQueue := mq.CancelQueueName(mq.DefaultCancelQueuePrefix, "job-d")
	if first.CancelQueueName != cancelQueue {
		t.Fatalf("cancel queue = %q", first.CancelQueueName)
	}

	// Чужая отмена игнорируется.
	ctx := context.Background()
	if err := mq.Publish(ctx, broker, cancelQueue, mq.NewMessage(domain.CancelRequest{JobID: "other"}, nil)); err != nil {
		t.Fatal(err)
	}
	if err := mq.Publish(ctx, broker, cancelQueue, mq.NewMessage(domain.CancelRequest{JobID: "job-d"}, nil)); err != nil {
		t.Fatal(err)
	}

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	last := recs[len(recs)-1]
	if last.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", last.Status)
	}
	if last.ErrorMessage != "cancelled by request" {
		t.Errorf("message = %q", last.ErrorMessage)
	}
	if last.Progress != 40 {
		t.Errorf("cancelled record should keep last progress, got %d", last.Progress)
	}

	if got := sc.cancelled(); len(got) != 1 || got[0] != "job-d" {
		t.Errorf("remote cancels = %v", got)
	}

	deadline := time.Now().Add(waitTimeout)
	for broker.Deleted(cancelQueue) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if broker.Deleted(cancelQueue) != 1 {
		t.Error("cancel queue should be deleted after the job finished")
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(40)}}
	_, broker := startOrchestrator(t, sc, func(cfg *Config) {
		cfg.TaskTimeout = 60 * time.Millisecond
	})

	submitJob(t, broker, domain.NewJob("job-e", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	last := recs[len(recs)-1]
	if last.Status != domain.StatusError {
		t.Fatalf("status = %s, want ERROR", last.Status)
	}
	if want := "job job-e timed out after 60ms"; last.ErrorMessage != want {
		t.Errorf("message = %q, want %q", last.ErrorMessage, want)
	}
	if got := sc.cancelled(); len(got) != 1 {
		t.Errorf("timeout should cancel the remote job, cancels = %v", got)
	}
}

func TestOrchestrator_MonotonicProgress(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{
		inProgress(50),
		inProgress(50),
		inProgress(40),
		inProgress(60),
		done(1),
	}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-p", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	got := progresses(recs)
	want := []int{30, 50, 60, 100}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress = %v, want %v", got, want)
		}
	}
}

func TestOrchestrator_SubmitDeclined(t *testing.T) {
	sc := &scriptedSolver{
		submit: func(context.Context, domain.Job) (solverclient.SubmitResult, error) {
			return solverclient.SubmitResult{Status: solverapi.RequestDeclined, Detail: "duplicate job"}, nil
		},
		steps: []pollStep{done()},
	}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-s", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	if len(recs) != 1 {
		t.Fatalf("expected only the final result, got %d", len(recs))
	}
	if recs[0].Status != domain.StatusError {
		t.Fatalf("status = %s", recs[0].Status)
	}
	if want := "solver declined job: DECLINED duplicate job"; recs[0].ErrorMessage != want {
		t.Errorf("message = %q, want %q", recs[0].ErrorMessage, want)
	}
	if sc.pollCount() != 0 {
		t.Error("declined job must not be polled")
	}
	if broker.Declared(mq.CancelQueueName(mq.DefaultCancelQueuePrefix, "job-s")) != 0 {
		t.Error("declined job must not get a cancel queue")
	}
}

func TestOrchestrator_SubmitError(t *testing.T) {
	sc := &scriptedSolver{
		submit: func(context.Context, domain.Job) (solverclient.SubmitResult, error) {
			return solverclient.SubmitResult{}, status.Error(codes.Unavailable, "connection refused")
		},
		steps: []pollStep{done()},
	}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-f", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	if !strings.HasPrefix(recs[0].ErrorMessage, "submit failed") {
		t.Errorf("message = %q", recs[0].ErrorMessage)
	}
	if recs[0].Progress != 0 {
		t.Errorf("progress = %d, want 0", recs[0].Progress)
	}
}

func TestOrchestrator_PanicBecomesError(t *testing.T) {
	sc := &scriptedSolver{
		submit: func(context.Context, domain.Job) (solverclient.SubmitResult, error) {
			panic("boom")
		},
		steps: []pollStep{done()},
	}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-panic", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	if want := "internal error: boom"; recs[0].ErrorMessage != want {
		t.Errorf("message = %q, want %q", recs[0].ErrorMessage, want)
	}
}

func TestOrchestrator_StopInterruptsJob(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(45)}}
	o, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-stop", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	waitResults(t, broker, 1)

	o.Stop()

	if !o.IsStopped() {
		t.Error("IsStopped should be true")
	}

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	last := recs[len(recs)-1]
	if last.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", last.Status)
	}
	if last.ErrorMessage != "interrupted: executor is shutting down" {
		t.Errorf("message = %q", last.ErrorMessage)
	}
	if o.ActiveJobsCount() != 0 {
		t.Errorf("active jobs = %d", o.ActiveJobsCount())
	}
}

func TestOrchestrator_JobWithoutID(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{done()}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.Job{Matrix: [][]float64{{1}}, RHS: []float64{1}})

	waitJobAck(t, broker)
	assertAckedOnce(t, broker)

	if n := len(broker.Published(mq.DefaultResultQueue)); n != 0 {
		t.Errorf("expected no results, got %d", n)
	}
}

func TestOrchestrator_ResultHeaders(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{done(1)}}
	_, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-h", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	waitFinal(t, broker)

	for _, msg := range broker.Published(mq.DefaultResultQueue) {
		if msg.Headers["job-id"] != "job-h" {
			t.Errorf("job-id header = %v", msg.Headers["job-id"])
		}
		if msg.Headers[HeaderExecutor] != "executor-test" {
			t.Errorf("executor header = %v", msg.Headers[HeaderExecutor])
		}
		if msg.Headers[mq.HeaderMessageID] == nil {
			t.Error("message-id header missing")
		}
	}
}

func TestOrchestrator_ActiveJobStats(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(45)}}
	o, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-st", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	waitResults(t, broker, 2)

	stats, ok := o.GetActiveJobStats("job-st")
	if !ok {
		t.Fatal("job should be active")
	}
	if stats.Phase != PhasePolling {
		t.Errorf("phase = %s", stats.Phase)
	}
	if stats.Progress != 45 {
		t.Errorf("progress = %d", stats.Progress)
	}
	if _, ok := o.GetActiveJobStats("missing"); ok {
		t.Error("unknown job should not be active")
	}
}

func TestOrchestrator_StopDuringSubmit(t *testing.T) {
	entered := make(chan struct{})
	sc := &scriptedSolver{
		submit: func(ctx context.Context, _ domain.Job) (solverclient.SubmitResult, error) {
			close(entered)
			<-ctx.Done()
			return solverclient.SubmitResult{}, status.FromContextError(ctx.Err()).Err()
		},
		steps: []pollStep{done()},
	}
	o, broker := startOrchestrator(t, sc, nil)

	submitJob(t, broker, domain.NewJob("job-ss", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))

	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("submit was not called")
	}
	o.Stop()

	recs := waitFinal(t, broker)
	assertAckedOnce(t, broker)

	if len(recs) != 1 {
		t.Fatalf("expected only the final result, got %d", len(recs))
	}
	if recs[0].Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", recs[0].Status)
	}
	if recs[0].ErrorMessage != "interrupted: executor is shutting down" {
		t.Errorf("message = %q", recs[0].ErrorMessage)
	}
	if sc.pollCount() != 0 {
		t.Error("interrupted submission must not be polled")
	}
}

// closeTracker фиксирует, сколько раз было подтверждено сообщение задачи
// к моменту закрытия подписки на очередь задач.
type closeTracker struct {
	*mqtest.Broker

	mu           sync.Mutex
	acksAtClose  int
	closeCounted bool
}

func (q *closeTracker) Subscribe(ctx context.Context, name string, h mq.RawHandler) (mq.Subscription, error) {
	sub, err := q.Broker.Subscribe(ctx, name, h)
	if err != nil || name != mq.DefaultJobQueue {
		return sub, err
	}
	return &trackedSubscription{Subscription: sub, owner: q}, nil
}

func (q *closeTracker) snapshot() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acksAtClose, q.closeCounted
}

type trackedSubscription struct {
	mq.Subscription
	owner *closeTracker
}

func (s *trackedSubscription) Close() error {
	s.owner.mu.Lock()
	if !s.owner.closeCounted {
		s.owner.acksAtClose = len(jobAcks(s.owner.Broker))
		s.owner.closeCounted = true
	}
	s.owner.mu.Unlock()
	return s.Subscription.Close()
}

func TestOrchestrator_StopWaitsForSlowRemoteCancel(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(45)}, cancelDelay: 200 * time.Millisecond}
	broker := mqtest.NewBroker()
	q := &closeTracker{Broker: broker}

	o := New(Config{
		Queue:        q,
		Solver:       sc,
		PollInterval: 10 * time.Millisecond,
		TaskTimeout:  waitTimeout,
		Logger:       discardLogger(),
	})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(o.Stop)

	submitJob(t, broker, domain.NewJob("job-slow", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	waitResults(t, broker, 1)

	o.Stop()

	acks, closed := q.snapshot()
	if !closed {
		t.Fatal("job subscription was not closed")
	}
	if acks != 1 {
		t.Errorf("job acks before subscription close = %d, want 1", acks)
	}

	recs := decodeResults(t, broker.Published(mq.DefaultResultQueue))
	last := recs[len(recs)-1]
	if last.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", last.Status)
	}
	if got := sc.cancelled(); len(got) != 1 || got[0] != "job-slow" {
		t.Errorf("remote cancels = %v", got)
	}
}

func TestOrchestrator_WaitHandlers(t *testing.T) {
	sc := &scriptedSolver{steps: []pollStep{inProgress(45)}}
	o, broker := startOrchestrator(t, sc, func(c *Config) {
		c.ShutdownTimeout = time.Second
	})

	if !o.waitHandlers(time.Millisecond) {
		t.Error("idle orchestrator should have no running handlers")
	}

	submitJob(t, broker, domain.NewJob("job-wait", [][]float64{{1}}, []float64{1}, domain.MethodNumpyExact))
	waitResults(t, broker, 1)

	start := time.Now()
	if o.waitHandlers(20 * time.Millisecond) {
		t.Fatal("handler should still be running")
	}
	if time.Since(start) > time.Second {
		t.Error("waitHandlers must respect its timeout")
	}

	o.Stop()
	waitFinal(t, broker)

	if !o.waitHandlers(time.Millisecond) {
		t.Error("handlers should be drained after Stop")
	}
}
