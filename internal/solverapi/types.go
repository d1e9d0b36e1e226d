package solverapi

import (
	"math"
	"time"
)

// RequestStatus — принят ли запрос сервисом. Не путать с JobStatus:
// COMPLETED означает только то, что запрос обработан.
type RequestStatus string

const (
	RequestCompleted RequestStatus = "COMPLETED"
	RequestDeclined  RequestStatus = "DECLINED"
)

// JobStatus — состояние задачи на стороне солвера.
type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobDone       JobStatus = "DONE"
	JobError      JobStatus = "ERROR"
	JobCancelled  JobStatus = "CANCELLED"
)

// IsTerminal возвращает true для DONE, ERROR и CANCELLED.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobError, JobCancelled:
		return true
	default:
		return false
	}
}

type SubmitRequest struct {
	JobID  string      `json:"jobId"`
	Method string      `json:"method"`
	Matrix [][]float64 `json:"matrix"`
	RHS    []float64   `json:"rhs"`
}

type SubmitResponse struct {
	RequestStatus        RequestStatus `json:"requestStatus"`
	RequestStatusDetails string        `json:"requestStatusDetails,omitempty"`
}

type GetStatusRequest struct {
	JobID string `json:"jobId"`
}

// GetStatusResponse — снимок задачи. StartTime и EndTime — unix-время в секундах,
// 0 если событие ещё не наступило.
type GetStatusResponse struct {
	RequestStatus        RequestStatus `json:"requestStatus"`
	RequestStatusDetails string        `json:"requestStatusDetails,omitempty"`
	JobStatus            JobStatus     `json:"jobStatus,omitempty"`
	Progress             int           `json:"progress"`
	StartTime            float64       `json:"startTime,omitempty"`
	EndTime              float64       `json:"endTime,omitempty"`
	Solution             []float64     `json:"solution,omitempty"`
	JobMessage           string        `json:"jobMessage,omitempty"`
}

type CancelJobRequest struct {
	JobID string `json:"jobId"`
}

type CancelJobResponse struct {
	RequestStatus        RequestStatus `json:"requestStatus"`
	RequestStatusDetails string        `json:"requestStatusDetails,omitempty"`
}

// UnixSeconds переводит время в unix-секунды. Нулевое время даёт 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// TimeFromUnix — обратное преобразование. 0 даёт nil.
func TimeFromUnix(sec float64) *time.Time {
	if sec <= 0 {
		return nil
	}
	whole, frac := math.Modf(sec)
	t := time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return &t
}
