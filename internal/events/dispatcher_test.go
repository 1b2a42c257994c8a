package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks   []*asynq.Task
	failOn  int // 1-based call index to fail at, 0 means never
	calls   int
	lastErr error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task) error {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		f.lastErr = errors.New("enqueue: redis unavailable")
		return f.lastErr
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func stageRecords(t *testing.T, outbox *MemoryOutbox, n int) []Record {
	t.Helper()
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := NewVoucherPostedRecord(VoucherPosted{
			VoucherID:     uuid.New(),
			TenantID:      uuid.New(),
			VoucherType:   "JOURNAL",
			VoucherNumber: int64(i + 1),
			TotalAmount:   "100.00",
			Currency:      "INR",
			OccurredAt:    time.Now(),
		})
		require.NoError(t, err)
		outbox.Append(rec)
		out = append(out, rec)
	}
	return out
}

func TestDispatchOnceShipsAndMarksSent(t *testing.T) {
	outbox := NewMemoryOutbox()
	stageRecords(t, outbox, 3)
	enq := &fakeEnqueuer{}
	d := NewDispatcher(outbox, enq, nil, time.Second, 10)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, enq.tasks, 3)
	assert.Equal(t, TaskTypeVoucherPosted, enq.tasks[0].Type())

	unsent, err := outbox.Unsent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)

	// Nothing left; a second pass is a no-op.
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, len(enq.tasks))
}

func TestDispatchOnceHonorsBatchSize(t *testing.T) {
	outbox := NewMemoryOutbox()
	stageRecords(t, outbox, 5)
	enq := &fakeEnqueuer{}
	d := NewDispatcher(outbox, enq, nil, time.Second, 2)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	unsent, err := outbox.Unsent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, unsent, 3)
}

func TestDispatchPartialFailureRetriesRemainder(t *testing.T) {
	outbox := NewMemoryOutbox()
	stageRecords(t, outbox, 3)
	enq := &fakeEnqueuer{failOn: 2}
	d := NewDispatcher(outbox, enq, nil, time.Second, 10)

	n, err := d.DispatchOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	// The delivered row is marked; the failed one and everything after it
	// stay unsent for the next tick. At-least-once, never lost.
	unsent, err := outbox.Unsent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, unsent, 2)

	enq.failOn = 0
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	unsent, err = outbox.Unsent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	outbox := NewMemoryOutbox()
	stageRecords(t, outbox, 1)
	enq := &fakeEnqueuer{}
	d := NewDispatcher(outbox, enq, nil, 5*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, enq.tasks, 1)
}
