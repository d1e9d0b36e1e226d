// Package solverclient — клиент удалённого солвера с отдельным дедлайном на каждый вызов.
package solverclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/solverapi"
)

const (
	defaultCallTimeout    = 5 * time.Second
	defaultMaxMessageSize = 64 << 20
)

// Config — параметры клиента.
type Config struct {
	// Addr — адрес солвера (host:port).
	Addr string

	// CallTimeout — дедлайн одного вызова (default: 5s).
	CallTimeout time.Duration

	// MaxMessageSize — предел размера сообщения в байтах (default: 64MB).
	// Матрицы большие, стандартных 4MB не хватает.
	MaxMessageSize int

	Logger *slog.Logger
}

// SubmitResult — ответ на отправку или отмену задачи.
type SubmitResult struct {
	Status solverapi.RequestStatus
	Detail string
}

// Accepted возвращает true, если солвер принял запрос.
func (r SubmitResult) Accepted() bool {
	return r.Status == solverapi.RequestCompleted
}

// StatusResult — снимок состояния задачи.
type StatusResult struct {
	Request  solverapi.RequestStatus
	Detail   string
	Job      solverapi.JobStatus
	Progress int
	Started  *time.Time
	Ended    *time.Time
	Solution []float64
	Message  string
}

// IsFinal возвращает true, только если запрос принят и задача в финальном статусе.
func (r StatusResult) IsFinal() bool {
	return r.Request == solverapi.RequestCompleted && r.Job.IsTerminal()
}

// Client — RemoteSolverClient.
//
// Соединение создаётся явно (New) или передаётся вызывающим (NewWithConn).
// Client безопасен для конкурентного использования.
type Client struct {
	conn        *grpc.ClientConn
	api         solverapi.SolverClient
	callTimeout time.Duration
	logger      *slog.Logger
}

// New открывает соединение с солвером. Соединение закрывается через Close.
func New(cfg Config) (*Client, error) {
	size := cfg.MaxMessageSize
	if size <= 0 {
		size = defaultMaxMessageSize
	}

	conn, err := grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(size),
			grpc.MaxCallSendMsgSize(size),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create solver client for %s: %w", cfg.Addr, err)
	}

	c := NewWithConn(conn, cfg)
	c.conn = conn
	return c, nil
}

// NewWithConn создаёт клиент поверх чужого соединения. Close его не закрывает.
func NewWithConn(cc grpc.ClientConnInterface, cfg Config) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:         solverapi.NewSolverClient(cc),
		callTimeout: timeout,
		logger:      logger,
	}
}

// Submit отправляет задачу солверу.
func (c *Client) Submit(ctx context.Context, job domain.Job) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.Submit(ctx, &solverapi.SubmitRequest{
		JobID:  job.ID,
		Method: string(job.Method),
		Matrix: job.Matrix,
		RHS:    job.RHS,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit job %s: %w", job.ID, err)
	}

	c.logger.Debug("job submitted",
		"job_id", job.ID,
		"request_status", resp.RequestStatus,
	)

	return SubmitResult{Status: resp.RequestStatus, Detail: resp.RequestStatusDetails}, nil
}

// PollStatus запрашивает состояние задачи.
func (c *Client) PollStatus(ctx context.Context, jobID string) (StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.GetStatus(ctx, &solverapi.GetStatusRequest{JobID: jobID})
	if err != nil {
		return StatusResult{}, fmt.Errorf("get status of job %s: %w", jobID, err)
	}

	return StatusResult{
		Request:  resp.RequestStatus,
		Detail:   resp.RequestStatusDetails,
		Job:      resp.JobStatus,
		Progress: resp.Progress,
		Started:  solverapi.TimeFromUnix(resp.StartTime),
		Ended:    solverapi.TimeFromUnix(resp.EndTime),
		Solution: resp.Solution,
		Message:  resp.JobMessage,
	}, nil
}

// Cancel просит солвер отменить задачу.
func (c *Client) Cancel(ctx context.Context, jobID string) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.CancelJob(ctx, &solverapi.CancelJobRequest{JobID: jobID})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	return SubmitResult{Status: resp.RequestStatus, Detail: resp.RequestStatusDetails}, nil
}

// Healthy сообщает, не сломано ли соединение с солвером.
// Для чужого соединения всегда true.
func (c *Client) Healthy() bool {
	if c.conn == nil {
		return true
	}
	switch c.conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	default:
		return true
	}
}

// Close закрывает собственное соединение клиента.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
