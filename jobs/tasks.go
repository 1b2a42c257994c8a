package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/saral-erp/saral-erp/internal/events"
	jobmetrics "github.com/saral-erp/saral-erp/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTrialBalanceIntegrity is the task type for the periodic
	// trial-balance integrity scan.
	TaskTrialBalanceIntegrity = "ledger:tb_integrity"
)

// EventSink receives VoucherPosted notifications pulled off the queue.
// Downstream modules (GST, inventory, payroll) hang off implementations of
// this; the core never blocks on them.
type EventSink interface {
	Deliver(ctx context.Context, evt events.VoucherPosted) error
}

// LogSink is the default sink: it records deliveries in the log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, evt events.VoucherPosted) error {
	if s.Logger != nil {
		s.Logger.Info("voucher posted",
			slog.String("voucher", evt.VoucherID.String()),
			slog.String("tenant", evt.TenantID.String()),
			slog.String("type", evt.VoucherType),
			slog.Int64("number", evt.VoucherNumber),
			slog.String("total", evt.TotalAmount))
	}
	return nil
}

// CacheBumper invalidates cached report projections. Satisfied by
// reports.Cache.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// BumpSink decorates a sink with report-cache invalidation: once a posted
// voucher is delivered, any trial balance computed before it is stale.
type BumpSink struct {
	Next  EventSink
	Cache CacheBumper
}

func (s BumpSink) Deliver(ctx context.Context, evt events.VoucherPosted) error {
	if err := s.Next.Deliver(ctx, evt); err != nil {
		return err
	}
	return s.Cache.Bump(ctx)
}

// VoucherPostedHandler fans a posted-voucher task out to the sink.
type VoucherPostedHandler struct {
	sink    EventSink
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewVoucherPostedHandler(sink EventSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *VoucherPostedHandler {
	return &VoucherPostedHandler{sink: sink, logger: logger, metrics: metrics}
}

// Handle processes events.TaskTypeVoucherPosted tasks. Malformed payloads
// are dropped rather than retried.
func (h *VoucherPostedHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(events.TaskTypeVoucherPosted)
	var evt events.VoucherPosted
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		if h.logger != nil {
			h.logger.Error("voucher posted payload", slog.Any("error", err))
		}
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(h.sink.Deliver(ctx, evt))
}

// NewTrialBalanceIntegrityTask constructs the cron-scheduled scan task.
func NewTrialBalanceIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskTrialBalanceIntegrity, nil)
}
