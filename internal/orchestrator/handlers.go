package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/status"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/solverapi"
	"github.com/shaiso/mdds/internal/solverclient"
	"github.com/shaiso/mdds/internal/telemetry"
)

// handleJob обрабатывает одно сообщение из очереди задач.
//
// Ровно один финальный результат публикуется на задачу, сообщение
// подтверждается в любом исходе, включая панику. Исключение — задача,
// доставленная после Stop: она возвращается в очередь без обработки.
func (o *Orchestrator) handleJob(ctx context.Context, msg mq.Message[domain.Job], ack mq.Acknowledger) {
	job := msg.Payload
	logger := telemetry.WithJobID(o.logger, job.ID)

	// Задача, пришедшая после Stop, возвращается в очередь необработанной.
	if !o.beginHandler() {
		logger.Info("executor is stopping, job requeued")
		if err := ack.Nack(true); err != nil {
			logger.Warn("failed to requeue job message", "error", err)
		}
		return
	}
	defer o.handlers.Done()

	defer func() {
		if err := ack.Ack(); err != nil {
			logger.Warn("failed to ack job message", "error", err)
		}
	}()

	if job.ID == "" {
		logger.Error("job without id, dropping")
		return
	}

	state := newJobState(job)
	if err := o.addActiveJob(state); err != nil {
		logger.Warn("job not processed", "reason", err)
		return
	}
	defer o.removeActiveJob(job.ID)

	telemetry.JobsInFlight.Inc()
	defer telemetry.JobsInFlight.Dec()

	logger.Info("job received", "method", job.Method, "rows", len(job.Matrix))

	final := o.safeProcess(ctx, state, logger)
	o.publishFinal(ctx, state, final, logger)

	// Очередь отмены удаляется только после публикации финального результата.
	if state.watch != nil {
		state.watch.close(ctx)
	}
}

// safeProcess выполняет processJob, превращая панику в ERROR.
func (o *Orchestrator) safeProcess(ctx context.Context, state *jobState, logger *slog.Logger) (final domain.ResultRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job processing panicked", "panic", r)
			final = o.errorResult(state, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.processJob(ctx, state, logger)
}

// processJob проводит задачу через солвер и возвращает финальную запись.
func (o *Orchestrator) processJob(ctx context.Context, state *jobState, logger *slog.Logger) domain.ResultRecord {
	job := state.job

	// 1. Отправляем задачу солверу
	res, err := o.solver.Submit(ctx, job)
	if err != nil && ctx.Err() != nil {
		return o.cancelledResult(ctx, state, "interrupted: executor is shutting down", logger)
	}
	if err != nil {
		logger.Error("submit failed", "error", err)
		return o.errorResult(state, fmt.Sprintf("submit failed: %v", err))
	}
	if !res.Accepted() {
		logger.Warn("solver declined job", "request_status", res.Status, "details", res.Detail)
		return o.errorResult(state, fmt.Sprintf("solver declined job: %s %s", res.Status, res.Detail))
	}

	if err := state.transition(PhaseSubmitted); err != nil {
		return o.errorResult(state, err.Error())
	}

	// 2. Слушаем очередь отмены
	cancelQueue := mq.CancelQueueName(o.cancelQueuePrefix, job.ID)
	watch, err := o.watchCancel(ctx, job.ID, cancelQueue, logger)
	if err != nil {
		logger.Warn("cancel queue unavailable, job cannot be cancelled", "queue", cancelQueue, "error", err)
	} else {
		state.setCancelQueue(cancelQueue)
		state.watch = watch
	}

	// 3. Публикуем IN_PROGRESS
	state.advanceProgress(o.initialProgress)
	o.publishProgress(ctx, state, logger)

	if err := state.transition(PhasePolling); err != nil {
		return o.errorResult(state, err.Error())
	}

	// 4. Опрашиваем до финального статуса
	return o.pollUntilFinal(ctx, state, watch, logger)
}

// pollUntilFinal опрашивает солвер с интервалом pollInterval, пока задача не
// завершится, не будет отменена или не истечёт taskTimeout.
func (o *Orchestrator) pollUntilFinal(ctx context.Context, state *jobState, watch *cancelWatch, logger *slog.Logger) domain.ResultRecord {
	jobID := state.job.ID
	deadline := time.Now().Add(o.taskTimeout)

	for {
		// Отмена или остановка до очередного опроса
		select {
		case <-watch.done():
			return o.cancelledResult(ctx, state, "cancelled by request", logger)
		case <-ctx.Done():
			return o.cancelledResult(ctx, state, "interrupted: executor is shutting down", logger)
		default:
		}

		st, err := o.solver.PollStatus(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return o.cancelledResult(ctx, state, "interrupted: executor is shutting down", logger)

		case err != nil && o.classifier.IsTransient(err):
			code := status.Code(err)
			telemetry.PollRetriesTotal.WithLabelValues(code.String()).Inc()
			logger.Warn("transient poll failure, retrying", "code", code, "error", err)

		case err != nil:
			logger.Error("poll failed", "code", status.Code(err), "error", err)
			return o.errorResult(state, fmt.Sprintf("status poll failed: %v", err))

		case st.IsFinal():
			return o.finalResult(state, st)

		case st.Request == solverapi.RequestCompleted:
			if state.advanceProgress(st.Progress) {
				o.publishProgress(ctx, state, logger)
			}

		default:
			logger.Debug("status request declined", "details", st.Detail)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return o.timeoutResult(ctx, state, logger)
		}

		select {
		case <-time.After(min(o.pollInterval, remaining)):
		case <-watch.done():
			return o.cancelledResult(ctx, state, "cancelled by request", logger)
		case <-ctx.Done():
			return o.cancelledResult(ctx, state, "interrupted: executor is shutting down", logger)
		}

		if !time.Now().Before(deadline) {
			return o.timeoutResult(ctx, state, logger)
		}
	}
}

// finalResult переводит финальный статус солвера в запись результата.
func (o *Orchestrator) finalResult(state *jobState, st solverclient.StatusResult) domain.ResultRecord {
	var rec domain.ResultRecord

	switch st.Job {
	case solverapi.JobDone:
		rec = state.result(domain.StatusDone)
		rec.Progress = 100
		rec.Solution = st.Solution
	case solverapi.JobCancelled:
		rec = state.result(domain.StatusCancelled)
		rec.ErrorMessage = st.Message
	default:
		rec = state.result(domain.StatusError)
		rec.ErrorMessage = st.Message
		if rec.ErrorMessage == "" {
			rec.ErrorMessage = "solver reported an error without details"
		}
	}

	finished := time.Now()
	if st.Ended != nil {
		finished = *st.Ended
	}
	rec.Finish(rec.Status, finished)
	return rec
}

func (o *Orchestrator) errorResult(state *jobState, message string) domain.ResultRecord {
	rec := state.result(domain.StatusError)
	rec.ErrorMessage = message
	rec.Finish(domain.StatusError, time.Now())
	return rec
}

// timeoutResult — ERROR по таймауту. Солверу отправляется отмена.
func (o *Orchestrator) timeoutResult(ctx context.Context, state *jobState, logger *slog.Logger) domain.ResultRecord {
	logger.Warn("job timed out", "timeout", o.taskTimeout)
	o.cancelRemote(ctx, state.job.ID, logger)
	return o.errorResult(state, fmt.Sprintf("job %s timed out after %s", state.job.ID, o.taskTimeout))
}

// cancelledResult — CANCELLED. Солверу отправляется отмена.
func (o *Orchestrator) cancelledResult(ctx context.Context, state *jobState, reason string, logger *slog.Logger) domain.ResultRecord {
	logger.Info("job cancelled", "reason", reason)
	o.cancelRemote(ctx, state.job.ID, logger)

	rec := state.result(domain.StatusCancelled)
	rec.ErrorMessage = reason
	rec.Finish(domain.StatusCancelled, time.Now())
	return rec
}

// cancelRemote отправляет отмену солверу. Ошибки только логируются.
func (o *Orchestrator) cancelRemote(ctx context.Context, jobID string, logger *slog.Logger) {
	res, err := o.solver.Cancel(context.WithoutCancel(ctx), jobID)
	if err != nil {
		logger.Warn("remote cancel failed", "error", err)
		return
	}
	if !res.Accepted() {
		logger.Debug("remote cancel declined", "details", res.Detail)
	}
}

// publishProgress публикует IN_PROGRESS с текущим прогрессом.
func (o *Orchestrator) publishProgress(ctx context.Context, state *jobState, logger *slog.Logger) {
	rec := state.result(domain.StatusInProgress)
	if err := o.publish(ctx, rec); err != nil {
		logger.Error("failed to publish progress", "progress", rec.Progress, "error", err)
		return
	}
	logger.Debug("progress published", "progress", rec.Progress)
}

// publishFinal фиксирует финальную фазу и публикует результат.
// Публикация не зависит от отмены ctx, чтобы остановка не теряла результат.
func (o *Orchestrator) publishFinal(ctx context.Context, state *jobState, rec domain.ResultRecord, logger *slog.Logger) {
	if err := state.transition(phaseFor(rec.Status)); err != nil {
		logger.Error("unexpected terminal transition", "error", err)
	}

	telemetry.JobsTotal.WithLabelValues(string(rec.Status)).Inc()
	telemetry.JobDuration.WithLabelValues(string(rec.Status)).Observe(time.Since(state.started).Seconds())

	if err := o.publish(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to publish result", "status", rec.Status, "error", err)
		return
	}

	logger.Info("job finished", "status", rec.Status, "message", rec.ErrorMessage)
}

func (o *Orchestrator) publish(ctx context.Context, rec domain.ResultRecord) error {
	headers := map[string]any{"job-id": rec.JobID}
	if o.executorID != "" {
		headers[HeaderExecutor] = o.executorID
	}
	return mq.Publish(ctx, o.queue, o.resultQueue, mq.NewMessage(rec, headers))
}

// cancelWatch — подписка на очередь отмены одной задачи.
type cancelWatch struct {
	queue  mq.Queue
	name   string
	sub    mq.Subscription
	signal chan struct{}
	logger *slog.Logger
}

// watchCancel подписывается на очередь отмены задачи.
func (o *Orchestrator) watchCancel(ctx context.Context, jobID, name string, logger *slog.Logger) (*cancelWatch, error) {
	w := &cancelWatch{
		queue:  o.queue,
		name:   name,
		signal: make(chan struct{}),
		logger: logger,
	}

	fired := false
	sub, err := mq.Subscribe[domain.CancelRequest](ctx, o.queue, name, func(_ context.Context, msg mq.Message[domain.CancelRequest], ack mq.Acknowledger) {
		if msg.Payload.JobID != jobID {
			logger.Warn("cancel request for another job ignored", "queue", name, "requested", msg.Payload.JobID)
		} else if !fired {
			fired = true
			close(w.signal)
		}
		if err := ack.Ack(); err != nil {
			logger.Warn("failed to ack cancel request", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	w.sub = sub
	return w, nil
}

// done возвращает канал, закрываемый при получении отмены.
// Для nil возвращает nil: такая задача не отменяется.
func (w *cancelWatch) done() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.signal
}

// close отписывается и удаляет очередь отмены.
func (w *cancelWatch) close(ctx context.Context) {
	if err := w.sub.Close(); err != nil {
		w.logger.Warn("failed to close cancel subscription", "queue", w.name, "error", err)
	}
	if err := w.queue.DeleteQueue(context.WithoutCancel(ctx), w.name); err != nil && !errors.Is(err, mq.ErrClosed) {
		w.logger.Warn("failed to delete cancel queue", "queue", w.name, "error", err)
	}
}
