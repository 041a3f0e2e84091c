package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// RetentionRunner fires the retention cleanup on a cron schedule.
// Cleanup errors are swallowed: retention is a non-critical path and
// must never take the gateway down.
type RetentionRunner struct {
	manager  *Manager
	schedule string
	gron     *gronx.Gronx
}

// NewRetentionRunner creates a runner. An empty schedule defaults to
// daily at 03:00.
func NewRetentionRunner(m *Manager, schedule string) *RetentionRunner {
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	return &RetentionRunner{
		manager:  m,
		schedule: schedule,
		gron:     gronx.New(),
	}
}

// Run ticks every minute until ctx is done, running cleanup whenever
// the schedule is due.
func (r *RetentionRunner) Run(ctx context.Context) error {
	if !r.gron.IsValid(r.schedule) {
		slog.Warn("retention.schedule.invalid", "schedule", r.schedule)
		return nil
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, now)
			if err != nil || !due {
				continue
			}
			r.RunOnce(ctx)
		}
	}
}

// RunOnce runs one cleanup pass immediately.
func (r *RetentionRunner) RunOnce(ctx context.Context) {
	deleted, err := r.manager.Cleanup(ctx)
	if err != nil {
		slog.Debug("retention.cleanup.failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("retention.cleanup.done", "deleted", deleted)
	}
}
