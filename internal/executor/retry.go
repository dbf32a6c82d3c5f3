package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the wait before re-queuing a task after its
// (attempt+1)'th failure: min(60s * 2^attempt, 5m) (spec §4.4). Rather
// than hand-rolling that formula, it drives a deterministic (no
// jitter) backoff/v4 ExponentialBackOff the matching number of steps,
// staying on the same retry library the teacher uses for
// sendWithRetry (internal/orchestrator/resilience.go) even though this
// executor needs a single computed delay rather than a blocking retry
// loop — the pool must keep running other tasks while one waits.
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 60 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Minute
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
