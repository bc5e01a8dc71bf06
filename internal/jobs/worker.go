package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pesafi/pesafi/internal/schedule"
)

// SweepJob handles the periodic sweep task by executing every due schedule.
type SweepJob struct {
	sweeper *schedule.Sweeper
	logger  *slog.Logger
}

// NewSweepJob constructs the sweep handler.
func NewSweepJob(sweeper *schedule.Sweeper, logger *slog.Logger) *SweepJob {
	return &SweepJob{sweeper: sweeper, logger: logger}
}

// Handle runs one sweep pass against the current clock.
func (j *SweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	stats, err := j.sweeper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("schedule sweep", "error", err)
		return err
	}
	if stats.Failed > 0 {
		j.logger.Warn("schedule sweep completed with failures",
			"due", stats.Due, "executed", stats.Executed, "failed", stats.Failed)
	}
	return nil
}

// WorkerConfig collects the dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts       asynq.RedisClientOpt
	Logger          *slog.Logger
	Concurrency     int
	SweepJob        *SweepJob
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// Worker wraps the asynq server and the scheduler that fires the periodic
// sweep task.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker constructs a Worker instance with the sweep task registered on a
// fixed interval.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskScheduleSweep, cfg.SweepJob.Handle)

	scheduler := asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := scheduler.Register(spec, NewScheduleSweepTask(), asynq.Queue(QueueDefault)); err != nil {
		return nil, fmt.Errorf("register sweep task: %w", err)
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.scheduler.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.scheduler.Shutdown()
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		w.scheduler.Shutdown()
		return err
	}
}
