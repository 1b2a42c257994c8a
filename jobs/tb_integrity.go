package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/saral-erp/saral-erp/internal/jobs"
	"github.com/saral-erp/saral-erp/internal/reports"
)

// TenantSource lists tenants with ledgers. Satisfied by coa.Repository.
type TenantSource interface {
	Tenants(ctx context.Context) ([]uuid.UUID, error)
}

// TrialBalanceIntegrityJob walks every tenant and asserts the accounting
// equation plus stored-vs-derived balance agreement. A failure is logged and
// returned so the scheduler records the run as failed; nothing is repaired
// automatically.
type TrialBalanceIntegrityJob struct {
	reporter *reports.Reporter
	tenants  TenantSource
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	now      func() time.Time
}

func NewTrialBalanceIntegrityJob(reporter *reports.Reporter, tenants TenantSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *TrialBalanceIntegrityJob {
	return &TrialBalanceIntegrityJob{reporter: reporter, tenants: tenants, logger: logger, metrics: metrics, now: time.Now}
}

// Handle processes TaskTrialBalanceIntegrity tasks.
func (j *TrialBalanceIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskTrialBalanceIntegrity)
	return tracker.End(j.run(ctx))
}

func (j *TrialBalanceIntegrityJob) run(ctx context.Context) error {
	tenants, err := j.tenants.Tenants(ctx)
	if err != nil {
		return err
	}
	now := j.now()
	var failure error
	for _, tenant := range tenants {
		if _, err := j.reporter.AsOf(ctx, tenant, now); err != nil {
			failure = errors.Join(failure, err)
			continue
		}
		if err := j.reporter.VerifyBalances(ctx, tenant, now); err != nil {
			failure = errors.Join(failure, err)
		}
	}
	if failure != nil {
		if j.logger != nil {
			j.logger.Error("trial balance integrity scan failed", slog.Any("error", failure))
		}
		return failure
	}
	if j.logger != nil {
		j.logger.Info("trial balance integrity scan clean", slog.Int("tenants", len(tenants)))
	}
	return nil
}
