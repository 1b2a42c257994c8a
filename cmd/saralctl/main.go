package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saral-erp/saral-erp/cmd/saralctl/cli"
	"github.com/saral-erp/saral-erp/internal/app"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/shared"
	"github.com/saral-erp/saral-erp/jobs"
)

const usage = `usage: saralctl <command> [flags]

commands:
  queue          show queue statistics
  integrity      enqueue a trial-balance integrity scan
  lock-period    lock a posting period within a financial year
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	switch os.Args[1] {
	case "queue":
		err = runQueue(ctx, cfg)
	case "integrity":
		err = runIntegrity(ctx, cfg)
	case "lock-period":
		err = runLockPeriod(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "saralctl:", err)
		os.Exit(1)
	}
}

func runQueue(ctx context.Context, cfg *app.Config) error {
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return nil
}

func runIntegrity(ctx context.Context, cfg *app.Config) error {
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	info, err := c.Trigger(ctx, jobs.TaskTrialBalanceIntegrity)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
	return nil
}

func runLockPeriod(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("lock-period", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	yearFlag := fs.String("year", "", "financial year id")
	fromFlag := fs.String("from", "", "first locked day (YYYY-MM-DD)")
	toFlag := fs.String("to", "", "last locked day (YYYY-MM-DD)")
	reason := fs.String("reason", "", "lock reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		return fmt.Errorf("parse -tenant: %w", err)
	}
	yearID, err := uuid.Parse(*yearFlag)
	if err != nil {
		return fmt.Errorf("parse -year: %w", err)
	}
	from, err := time.Parse("2006-01-02", *fromFlag)
	if err != nil {
		return fmt.Errorf("parse -from: %w", err)
	}
	to, err := time.Parse("2006-01-02", *toFlag)
	if err != nil {
		return fmt.Errorf("parse -to: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	manager := fiscalyear.NewManager(fiscalyear.NewRepository(pool), logger)
	lock, err := manager.LockPeriod(ctx, tenantID, yearID, from, to, *reason)
	if err != nil {
		return err
	}
	audit := shared.NewAuditLogger(pool)
	if err := audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		Action:   "period.lock",
		Entity:   "financial_year",
		EntityID: yearID.String(),
		Meta: map[string]any{
			"from":   lock.From.Format("2006-01-02"),
			"to":     lock.To.Format("2006-01-02"),
			"reason": *reason,
		},
		At: time.Now(),
	}); err != nil {
		logger.Warn("audit record", slog.Any("error", err))
	}
	fmt.Printf("locked %s..%s id=%s\n",
		lock.From.Format("2006-01-02"), lock.To.Format("2006-01-02"), lock.ID)
	return nil
}
