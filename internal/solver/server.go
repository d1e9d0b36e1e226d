// Package solver — эталонный gRPC сервис солвера на gonum.
//
// Сервис принимает задачи, решает их в фоне и отдаёт статус по запросу.
// Используется для локального запуска системы и в тестах исполнителя.
package solver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/solverapi"
	"github.com/shaiso/mdds/internal/telemetry"
)

// Server реализует solverapi.SolverServer поверх Registry.
type Server struct {
	reg    *Registry
	logger *slog.Logger
}

var _ solverapi.SolverServer = (*Server)(nil)

// NewServer создаёт сервис.
func NewServer(reg *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, logger: logger}
}

// Submit принимает задачу. Неизвестный метод — INVALID_ARGUMENT,
// повторный ID — DECLINED.
func (s *Server) Submit(_ context.Context, in *solverapi.SubmitRequest) (*solverapi.SubmitResponse, error) {
	if in.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job id is required")
	}

	method, err := domain.ParseSolvingMethod(in.Method)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unknown method: %s", in.Method)
	}

	if err := s.reg.Submit(in.JobID, method, in.Matrix, in.RHS); err != nil {
		if errors.Is(err, ErrUnsupportedMethod) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Warn("submit declined", "job_id", in.JobID, "error", err)
		return &solverapi.SubmitResponse{
			RequestStatus:        solverapi.RequestDeclined,
			RequestStatusDetails: err.Error(),
		}, nil
	}

	telemetry.SolverJobsTotal.WithLabelValues(string(method)).Inc()
	return &solverapi.SubmitResponse{RequestStatus: solverapi.RequestCompleted}, nil
}

// GetStatus возвращает снимок задачи. Неизвестная задача — DECLINED.
func (s *Server) GetStatus(_ context.Context, in *solverapi.GetStatusRequest) (*solverapi.GetStatusResponse, error) {
	snap, ok := s.reg.Status(in.JobID)
	if !ok {
		return &solverapi.GetStatusResponse{
			RequestStatus:        solverapi.RequestDeclined,
			RequestStatusDetails: "unknown job " + in.JobID,
		}, nil
	}

	return &solverapi.GetStatusResponse{
		RequestStatus: solverapi.RequestCompleted,
		JobStatus:     snap.Status,
		Progress:      snap.Progress,
		StartTime:     solverapi.UnixSeconds(snap.Started),
		EndTime:       solverapi.UnixSeconds(snap.Ended),
		Solution:      snap.Solution,
		JobMessage:    snap.Message,
	}, nil
}

// CancelJob отменяет выполняющуюся задачу.
func (s *Server) CancelJob(_ context.Context, in *solverapi.CancelJobRequest) (*solverapi.CancelJobResponse, error) {
	if err := s.reg.Cancel(in.JobID); err != nil {
		return &solverapi.CancelJobResponse{
			RequestStatus:        solverapi.RequestDeclined,
			RequestStatusDetails: err.Error(),
		}, nil
	}
	return &solverapi.CancelJobResponse{RequestStatus: solverapi.RequestCompleted}, nil
}
