package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic job. Errors are logged and the schedule continues.
type Task func(ctx context.Context) error

// NextAligned returns ceil(now/interval)*interval on the Unix epoch grid.
func NextAligned(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = time.Minute
	}
	n, step := now.UnixNano(), int64(interval)
	next := n / step * step
	if next < n {
		next += step
	}
	return time.Unix(0, next).In(now.Location())
}

// RunAligned runs task at every interval boundary until ctx is done.
func RunAligned(ctx context.Context, name string, interval time.Duration, task Task, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var last time.Time
	for {
		next := NextAligned(time.Now(), interval)
		if !next.After(last) {
			next = next.Add(interval)
		}
		log.Info("next periodic run", zap.String("task", name), zap.Time("at", next))

		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		last = next

		start := time.Now()
		if err := task(ctx); err != nil {
			log.Error("periodic task failed", zap.String("task", name), zap.Error(err))
			continue
		}
		log.Info("periodic task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}
}
