package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Enqueuer hands a task to the queue. Satisfied by AsynqEnqueuer in
// production and by fakes in tests.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) error
}

// AsynqEnqueuer adapts an asynq client to the Enqueuer interface.
type AsynqEnqueuer struct {
	client *asynq.Client
	queue  string
}

func NewAsynqEnqueuer(client *asynq.Client, queue string) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, queue: queue}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, task *asynq.Task) error {
	_, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue), asynq.MaxRetry(5))
	return err
}

// Dispatcher polls the outbox and ships unsent rows to the queue. Delivery
// is at-least-once: a row enqueued but not marked sent is shipped again on
// the next tick.
type Dispatcher struct {
	outbox   Outbox
	enqueue  Enqueuer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
	onSent   func(int)
}

func NewDispatcher(outbox Outbox, enqueue Enqueuer, logger *slog.Logger, interval time.Duration, batch int) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		outbox:   outbox,
		enqueue:  enqueue,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (d *Dispatcher) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// OnSent registers a callback invoked with the count of rows delivered per
// batch. Used to feed metrics.
func (d *Dispatcher) OnSent(fn func(int)) {
	d.onSent = fn
}

// DispatchOnce ships one batch, returning the number of rows delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	records, err := d.outbox.Unsent(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	var sent []uuid.UUID
	for _, rec := range records {
		if err := d.enqueue.Enqueue(ctx, asynq.NewTask(rec.EventType, rec.Payload)); err != nil {
			// Mark what went through; the remainder is retried next tick.
			if markErr := d.outbox.MarkSent(ctx, sent, d.now()); markErr != nil && d.logger != nil {
				d.logger.Error("outbox mark sent", slog.Any("error", markErr))
			}
			if d.onSent != nil && len(sent) > 0 {
				d.onSent(len(sent))
			}
			return len(sent), err
		}
		sent = append(sent, rec.ID)
	}
	if err := d.outbox.MarkSent(ctx, sent, d.now()); err != nil {
		return len(sent), err
	}
	if d.onSent != nil && len(sent) > 0 {
		d.onSent(len(sent))
	}
	return len(sent), nil
}

// Run polls until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := d.DispatchOnce(ctx)
			if err != nil && d.logger != nil {
				d.logger.Warn("outbox dispatch", slog.Any("error", err))
			}
			if n > 0 && d.logger != nil {
				d.logger.Debug("outbox dispatched", slog.Int("count", n))
			}
		}
	}
}
