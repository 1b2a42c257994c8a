package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/saral-erp/saral-erp/internal/app"
	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	jobmetrics "github.com/saral-erp/saral-erp/internal/jobs"
	"github.com/saral-erp/saral-erp/internal/observability"
	"github.com/saral-erp/saral-erp/internal/reports"
	"github.com/saral-erp/saral-erp/internal/vouchers"
	"github.com/saral-erp/saral-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	obs := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(obs.Registerer())

	coaRepo := coa.NewRepository(pool)
	coaService := coa.NewService(coaRepo, logger)
	voucherRepo := vouchers.NewRepository(pool)

	reportCache := reports.NewCache(redisClient, 10*time.Minute)
	reporter := reports.NewReporter(coaService, voucherRepo, logger)
	reporter.WithCache(reportCache)
	integrityJob := jobs.NewTrialBalanceIntegrityJob(reporter, coaRepo, logger, metrics)
	sink := jobs.BumpSink{Next: jobs.LogSink{Logger: logger}, Cache: reportCache}
	postedHandler := jobs.NewVoucherPostedHandler(sink, logger, metrics)

	asynqClient := asynq.NewClient(redisOpts)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	outbox := events.NewOutboxStore(pool)
	enqueuer := events.NewAsynqEnqueuer(asynqClient, jobs.QueueDefault)
	dispatcher := events.NewDispatcher(outbox, enqueuer, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)
	dispatcher.OnSent(metrics.AddDispatched)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: events.TaskTypeVoucherPosted, Handler: postedHandler.Handle},
			{Type: jobs.TaskTrialBalanceIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 1 * * *", Task: jobs.NewTrialBalanceIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	opsRouter := chi.NewRouter()
	opsRouter.Use(obs.Middleware)
	jobs.NewHandler(inspector, logger).MountRoutes(opsRouter)
	opsRouter.Method(http.MethodGet, "/metrics", obs.Handler())
	opsServer := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
