package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pesafi/pesafi/internal/config"
	"github.com/pesafi/pesafi/internal/infra"
	"github.com/pesafi/pesafi/internal/jobs"
	"github.com/pesafi/pesafi/internal/ledger"
	"github.com/pesafi/pesafi/internal/logging"
	"github.com/pesafi/pesafi/internal/notification"
	"github.com/pesafi/pesafi/internal/schedule"
	"github.com/pesafi/pesafi/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", "error", err)
		os.Exit(1)
	}

	store := ledger.NewPostgresStore(db)
	limits := transfer.NewLimitChecker(transfer.LimitConfig{
		MaxTransactionAmount: cfg.MaxTransactionAmount,
		MinTransactionAmount: cfg.MinTransactionAmount,
	})
	notifier := notification.NewLoggerNotifier(logger)
	executor := transfer.NewExecutor(store, limits, notifier, nil, logger)

	schedules := schedule.NewPostgresRepository(db)
	claims := schedule.NewClaimStore(cache, cfg.SweepClaimTTL)
	sweeper := schedule.NewSweeper(schedules, executor, claims, notifier, logger, 0)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     redisOpts.Addr,
			Password: redisOpts.Password,
			DB:       redisOpts.DB,
		},
		Logger:          logger,
		Concurrency:     cfg.SweepConcurrency,
		SweepJob:        jobs.NewSweepJob(sweeper, logger),
		SweepInterval:   cfg.SweepInterval,
		ShutdownTimeout: cfg.ShutdownPeriod,
	})
	if err != nil {
		logger.Error("init worker", "error", err)
		os.Exit(1)
	}

	logger.Info("worker starting",
		"app", cfg.AppName, "env", cfg.AppEnv, "sweep_interval", cfg.SweepInterval.String())

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", "error", err)
		os.Exit(1)
	}

	logger.Info("worker exited cleanly")
}
