// Package resultconsumer переносит записи из очереди результатов в хранилище.
//
// Запись применяется, только если она может заменить текущую
// (domain.ResultRecord.Supersedes): финальная запись не перезаписывается,
// прогресс не убывает. Отклонённая запись подтверждается и попадает в метрику.
package resultconsumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/store"
	"github.com/shaiso/mdds/internal/telemetry"
)

// Причины отклонения записи.
const (
	ReasonTerminal   = "terminal"
	ReasonRegression = "progress_regression"
	ReasonInvalid    = "invalid"
)

// ErrAlreadyStarted — Start вызван повторно.
var ErrAlreadyStarted = errors.New("result consumer already started")

// Config — параметры Service.
type Config struct {
	Queue       mq.Queue
	Store       store.Store
	ResultQueue string // default: mdds.results
	Logger      *slog.Logger
}

// Service — потребитель очереди результатов.
type Service struct {
	queue       mq.Queue
	store       store.Store
	resultQueue string
	logger      *slog.Logger

	sub mq.Subscription
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.ResultQueue
	if name == "" {
		name = mq.DefaultResultQueue
	}
	return &Service{
		queue:       cfg.Queue,
		store:       cfg.Store,
		resultQueue: name,
		logger:      logger,
	}
}

// Start подписывается на очередь результатов.
func (s *Service) Start(ctx context.Context) error {
	if s.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := mq.Subscribe[domain.ResultRecord](ctx, s.queue, s.resultQueue, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub

	s.logger.Info("result consumer started", "queue", s.resultQueue)
	return nil
}

// Stop закрывает подписку, дожидаясь текущего сообщения.
func (s *Service) Stop() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Close(); err != nil {
		s.logger.Warn("failed to close result subscription", "error", err)
	}
	s.logger.Info("result consumer stopped")
}

func (s *Service) handle(ctx context.Context, msg mq.Message[domain.ResultRecord], ack mq.Acknowledger) {
	rec := msg.Payload
	logger := telemetry.WithJobID(s.logger, rec.JobID)

	if err := rec.Validate(); err != nil {
		logger.Error("invalid result record, dropping", "error", err)
		telemetry.ResultsSuppressedTotal.WithLabelValues(ReasonInvalid).Inc()
		settle(logger, ack.Nack(false))
		return
	}

	prev, found, err := store.Get[domain.ResultRecord](ctx, s.store, rec.JobID)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		// Битая запись считается отсутствующей и перезаписывается.
		logger.Error("previous result is corrupt, overwriting", "error", err)
		telemetry.ResultsCorruptTotal.Inc()
		found = false
	case err != nil:
		logger.Error("failed to read previous result", "error", err)
		settle(logger, ack.Nack(true))
		return
	}

	var prevPtr *domain.ResultRecord
	if found {
		prevPtr = &prev
	}

	if err := rec.Supersedes(prevPtr); err != nil {
		reason := ReasonRegression
		if errors.Is(err, domain.ErrTerminalRecord) {
			reason = ReasonTerminal
		}
		logger.Info("result write suppressed", "status", rec.Status, "reason", reason, "detail", err)
		telemetry.ResultsSuppressedTotal.WithLabelValues(reason).Inc()
		settle(logger, ack.Ack())
		return
	}

	if err := s.store.Put(ctx, rec.JobID, rec); err != nil {
		logger.Error("failed to store result", "status", rec.Status, "error", err)
		settle(logger, ack.Nack(true))
		return
	}

	telemetry.ResultsStoredTotal.WithLabelValues(string(rec.Status)).Inc()
	logger.Debug("result stored", "status", rec.Status, "progress", rec.Progress)
	settle(logger, ack.Ack())
}

func settle(logger *slog.Logger, err error) {
	if err != nil {
		logger.Warn("failed to settle result message", "error", err)
	}
}
