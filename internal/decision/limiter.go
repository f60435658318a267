package decision

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"execution-core/internal/monitor"
)

// Limited bounds how often the wrapped client is queried and records each
// verdict in metrics.
type Limited struct {
	next    Client
	limiter *rate.Limiter
	metrics *monitor.Metrics
}

// NewLimited allows perMinute queries with a burst of one. perMinute <= 0
// disables the limit.
func NewLimited(next Client, perMinute int, metrics *monitor.Metrics) *Limited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, 1), metrics: metrics}
}

func (l *Limited) Decide(ctx context.Context, s Snapshot) (Verdict, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return WaitVerdict("rate limited"), err
	}
	start := time.Now()
	v, err := l.next.Decide(ctx, s)
	l.metrics.ObserveDecision(time.Since(start))
	l.metrics.Decision(string(v.Decision))
	return v, err
}
