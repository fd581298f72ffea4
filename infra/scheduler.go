package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

// DefaultJobTimeout bounds a job run when the job sets no timeout
const DefaultJobTimeout = time.Minute

// Job is a scheduled task run by the scheduler component
type Job struct {
	Name string
	// Schedule is a cron expression or descriptor such as "@every 1m"
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func (s *Set) startScheduler(context.Context) (readiness.Outcome, error) {
	if len(s.jobs) == 0 {
		return readiness.Disabled("No scheduled jobs"), nil
	}

	logger := cronLogger{logger: s.logger.With("scheduler", "cron")}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	runCtx, cancel := context.WithCancel(context.Background())
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		if _, err := c.AddFunc(job.Schedule, s.jobFunc(runCtx, job)); err != nil {
			cancel()
			return readiness.Outcome{}, retry.NonRetryable(
				errors.WrapInvalid(err, "Set", "startScheduler", fmt.Sprintf("schedule job %s", job.Name)))
		}
		names = append(names, job.Name)
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	msg := fmt.Sprintf("Scheduler running %d jobs", len(names))
	return readiness.Ready(msg).
		WithDetails(readiness.Details{"jobs": names}).
		WithStop(func(ctx context.Context) error {
			s.mu.Lock()
			s.cron = nil
			s.mu.Unlock()

			defer cancel()
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "Set", "stopScheduler", "wait for running jobs")
			}
		}), nil
}

func (s *Set) jobFunc(runCtx context.Context, job Job) func() {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	logger := s.logger.With("job", job.Name)

	return func() {
		ctx, cancel := context.WithTimeout(runCtx, timeout)
		defer cancel()

		began := time.Now()
		if err := job.Run(ctx); err != nil {
			logger.Warn("Scheduled job failed", "error", err, "duration", time.Since(began))
			return
		}
		logger.Debug("Scheduled job completed", "duration", time.Since(began))
	}
}

// SchedulerRunning reports whether the scheduler component is started
func (s *Set) SchedulerRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cron != nil
}
