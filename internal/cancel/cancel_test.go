package cancel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/mdds/internal/domain"
	"github.com/shaiso/mdds/internal/mq"
	"github.com/shaiso/mdds/internal/mq/mqtest"
	"github.com/shaiso/mdds/internal/store"
)

func setup(t *testing.T, records ...domain.ResultRecord) (*Correlator, *mqtest.Broker) {
	t.Helper()

	s := store.NewMemory()
	for _, rec := range records {
		require.NoError(t, s.Put(context.Background(), rec.JobID, rec))
	}
	broker := mqtest.NewBroker()
	return NewCorrelator(s, broker, slog.New(slog.NewTextHandler(io.Discard, nil))), broker
}

func TestCancel_Accepted(t *testing.T) {
	c, broker := setup(t, domain.ResultRecord{
		JobID:           "job-1",
		Status:          domain.StatusInProgress,
		Progress:        30,
		CancelQueueName: "mdds.cancel.job-1",
	})

	require.NoError(t, c.Cancel(context.Background(), "job-1"))

	msgs := broker.Published("mdds.cancel.job-1")
	require.Len(t, msgs, 1)

	var req domain.CancelRequest
	require.NoError(t, json.Unmarshal(msgs[0].Body, &req))
	assert.Equal(t, "job-1", req.JobID)
}

func TestCancel_NoResult(t *testing.T) {
	c, _ := setup(t)

	err := c.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestCancel_Terminal(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusDone, domain.StatusError, domain.StatusCancelled} {
		t.Run(string(st), func(t *testing.T) {
			finished := time.Now()
			c, broker := setup(t, domain.ResultRecord{
				JobID:           "job-t",
				Status:          st,
				FinishedAt:      &finished,
				CancelQueueName: "mdds.cancel.job-t",
			})

			err := c.Cancel(context.Background(), "job-t")
			assert.ErrorIs(t, err, ErrAlreadyTerminal)
			assert.Contains(t, err.Error(), string(st))
			assert.Empty(t, broker.Published("mdds.cancel.job-t"))
		})
	}
}

func TestCancel_NoCancelQueue(t *testing.T) {
	c, _ := setup(t, domain.ResultRecord{JobID: "job-n", Status: domain.StatusNew})

	err := c.Cancel(context.Background(), "job-n")
	assert.ErrorIs(t, err, ErrNoCancelQueue)
}

func TestCancel_EmptyJobID(t *testing.T) {
	c, _ := setup(t)
	assert.ErrorIs(t, c.Cancel(context.Background(), ""), domain.ErrEmptyJobID)
}

func TestCancel_BrokerDown(t *testing.T) {
	c, broker := setup(t, domain.ResultRecord{
		JobID:           "job-d",
		Status:          domain.StatusInProgress,
		CancelQueueName: "mdds.cancel.job-d",
	})
	broker.SetDown(true)

	err := c.Cancel(context.Background(), "job-d")
	assert.ErrorIs(t, err, mq.ErrConnection)
}
