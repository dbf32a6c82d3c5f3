package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// breakerRegistry holds one circuit breaker per runner name, adapted
// from the teacher's CircuitBreakerRegistry (there keyed by backend
// type; here keyed by Runner Registry name). A runner that fails five
// times in a row trips its breaker, shedding load onto it for 30s
// before a half-open probe.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *breakerRegistry) get(runnerName string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[runnerName]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        runnerName,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation/timeout is the caller's doing, not the
			// runner misbehaving; don't count it against the breaker.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[runnerName] = cb
	return cb
}
