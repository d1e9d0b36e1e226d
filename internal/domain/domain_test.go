package domain

import (
	"errors"
	"testing"
	"time"
)

// --- Status Tests ---

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusNew, false},
		{StatusInProgress, false},
		{StatusDone, true},
		{StatusCancelled, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("IN_PROGRESS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", st)
	}

	if _, err := ParseStatus("RUNNING"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}

// --- Job Tests ---

func TestParseSolvingMethod(t *testing.T) {
	for _, m := range SolvingMethods() {
		got, err := ParseSolvingMethod(string(m))
		if err != nil {
			t.Fatalf("ParseSolvingMethod(%s): %v", m, err)
		}
		if got != m {
			t.Errorf("expected %s, got %s", m, got)
		}
	}

	if _, err := ParseSolvingMethod("magic"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestJob_Validate(t *testing.T) {
	job := NewJob("job-1", [][]float64{{1}}, []float64{1}, MethodNumpyExact)
	if err := job.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job.ID = ""
	if err := job.Validate(); !errors.Is(err, ErrEmptyJobID) {
		t.Errorf("expected ErrEmptyJobID, got %v", err)
	}

	job.ID = "job-1"
	job.Method = "unknown"
	if err := job.Validate(); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

// --- ResultRecord Tests ---

func TestResultRecord_SetProgress(t *testing.T) {
	var r ResultRecord

	for _, p := range []int{0, 30, 100} {
		if err := r.SetProgress(p); err != nil {
			t.Errorf("SetProgress(%d): unexpected error %v", p, err)
		}
	}

	for _, p := range []int{-1, 101} {
		if err := r.SetProgress(p); !errors.Is(err, ErrInvalidProgress) {
			t.Errorf("SetProgress(%d): expected ErrInvalidProgress, got %v", p, err)
		}
	}
	if r.Progress != 100 {
		t.Errorf("rejected progress must not be stored, got %d", r.Progress)
	}
}

func TestResultRecord_Finish(t *testing.T) {
	r := ResultRecord{JobID: "j", Status: StatusInProgress}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	r.Finish(StatusDone, at)

	if r.Status != StatusDone {
		t.Errorf("expected DONE, got %s", r.Status)
	}
	if r.FinishedAt == nil || !r.FinishedAt.Equal(at) {
		t.Errorf("expected finishedAt %v, got %v", at, r.FinishedAt)
	}
}

func TestResultRecord_Supersedes(t *testing.T) {
	t.Run("no previous record", func(t *testing.T) {
		r := ResultRecord{JobID: "j", Status: StatusInProgress, Progress: 30}
		if err := r.Supersedes(nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("terminal previous is final", func(t *testing.T) {
		prev := &ResultRecord{JobID: "j", Status: StatusDone, Progress: 100}
		r := ResultRecord{JobID: "j", Status: StatusError, Progress: 70}
		if err := r.Supersedes(prev); !errors.Is(err, ErrTerminalRecord) {
			t.Errorf("expected ErrTerminalRecord, got %v", err)
		}
	})

	t.Run("non-terminal regression rejected", func(t *testing.T) {
		prev := &ResultRecord{JobID: "j", Status: StatusInProgress, Progress: 60}
		r := ResultRecord{JobID: "j", Status: StatusInProgress, Progress: 30}
		if err := r.Supersedes(prev); !errors.Is(err, ErrProgressRegression) {
			t.Errorf("expected ErrProgressRegression, got %v", err)
		}
	})

	t.Run("terminal inherits progress and cancel queue", func(t *testing.T) {
		prev := &ResultRecord{JobID: "j", Status: StatusInProgress, Progress: 80, CancelQueueName: "mdds.cancel.j"}
		r := ResultRecord{JobID: "j", Status: StatusError, Progress: 70}
		if err := r.Supersedes(prev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Progress != 80 {
			t.Errorf("expected progress 80, got %d", r.Progress)
		}
		if r.CancelQueueName != "mdds.cancel.j" {
			t.Errorf("expected cancel queue to be carried over, got %q", r.CancelQueueName)
		}
	})
}

func TestResultRecord_Validate(t *testing.T) {
	r := ResultRecord{JobID: "j", Status: StatusNew}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Progress = 150
	if err := r.Validate(); !errors.Is(err, ErrInvalidProgress) {
		t.Errorf("expected ErrInvalidProgress, got %v", err)
	}

	r.Progress = 0
	r.Status = "PENDING"
	if err := r.Validate(); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}
