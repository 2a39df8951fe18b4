package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// Config tunes the job runner.
type Config struct {
	PurgeCron   string        // cron schedule of the waitlist purge, e.g. "0 4 * * *"
	PurgeMaxAge time.Duration // entries older than this are purged
	TokenCron   string        // cron schedule of the refresh token sweep
}

// NewServeMux routes task types to h.
func NewServeMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePurgeWaitlist, h.HandlePurgeWaitlist)
	mux.HandleFunc(TypePurgeTokens, h.HandlePurgeTokens)
	return mux
}

// Register adds the periodic tasks to scheduler.
func Register(scheduler *asynq.Scheduler, cfg Config) error {
	purge, err := NewPurgeWaitlistTask(AllRestaurants, cfg.PurgeMaxAge)
	if err != nil {
		return err
	}
	if _, err := scheduler.Register(cfg.PurgeCron, purge, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("register %s: %w", TypePurgeWaitlist, err)
	}
	if cfg.TokenCron != "" {
		if _, err := scheduler.Register(cfg.TokenCron, asynq.NewTask(TypePurgeTokens, nil), asynq.MaxRetry(1)); err != nil {
			return fmt.Errorf("register %s: %w", TypePurgeTokens, err)
		}
	}
	return nil
}

// Runner owns the asynq worker and scheduler.
type Runner struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
}

// Start launches the worker and the scheduler against Redis.
func Start(redisOpt asynq.RedisClientOpt, h *Handlers, cfg Config) (*Runner, error) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{"default": 1},
		},
	)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if err := Register(scheduler, cfg); err != nil {
		return nil, err
	}
	if err := srv.Start(NewServeMux(h)); err != nil {
		return nil, fmt.Errorf("asynq server: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("asynq scheduler: %w", err)
	}
	log.Printf("jobs: purge scheduled at %q (max age %s)", cfg.PurgeCron, cfg.PurgeMaxAge)
	return &Runner{srv: srv, scheduler: scheduler}, nil
}

// Shutdown stops the scheduler and waits for running tasks.
func (r *Runner) Shutdown() {
	r.scheduler.Shutdown()
	r.srv.Shutdown()
}
