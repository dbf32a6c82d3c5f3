// Package monitor aggregates rolling counters, wait/execution
// distributions, and a per-queue health score from the event stream
// (spec §4.9, component C9). It is observation-only: nothing here
// mutates a task or the live configuration; the Optimizer (internal/
// optimizer) reads Snapshot to decide what to tune.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/task"
)

// HealthStatus is the closed set a numeric health score maps onto
// (spec §4.9).
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthCritical  HealthStatus = "critical"
	HealthEmergency HealthStatus = "emergency"
)

// Thresholds configures the queue-size, error-rate and wait-time
// health-score penalties (spec §4.9); the stagnation penalty has no
// threshold.
type Thresholds struct {
	QueueSizeWarning int
	ErrorRateWarning float64
	WaitTimeWarning  time.Duration
}

// DefaultThresholds returns conservative warning levels suitable for a
// MaxConcurrentTasks-sized pool; callers with a much larger pool should
// scale QueueSizeWarning accordingly.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueSizeWarning: 50,
		ErrorRateWarning: 0.2,
		WaitTimeWarning:  2 * time.Minute,
	}
}

// Snapshot is the metrics() result of the spec §6 Core API.
type Snapshot struct {
	Throughput           float64 // tasks/min, trailing 1-minute window
	AverageWaitTime      time.Duration
	P95WaitTime          time.Duration
	SuccessRate          float64
	RetryRate            float64
	ResourceUtilization  float64
	BreakdownSuccessRate float64
	QueueDepth           int
	ActiveTasks          int
	HealthScore          int
	Health               HealthStatus
}

const waitSampleWindow = 512

// Monitor subscribes to the event bus and maintains rolling state for
// Snapshot and the health score (spec §4.9). One Monitor owns one
// private prometheus.Registry so multiple instances (as in tests) never
// collide on metric names.
type Monitor struct {
	store      *task.Store
	bus        *events.Bus
	cfg        *config.Config
	log        zerolog.Logger
	thresholds Thresholds

	registry *prometheus.Registry

	completedTotal  prometheus.Counter
	failedTotal     prometheus.Counter
	retriedTotal    prometheus.Counter
	cancelledTotal  prometheus.Counter
	breakdownOK     prometheus.Counter
	breakdownReject prometheus.Counter
	waitHistogram   prometheus.Histogram
	execHistogram   prometheus.Histogram
	queueDepthGauge prometheus.Gauge
	healthGauge     prometheus.Gauge

	mu             sync.Mutex
	completions    []time.Time // completedAt timestamps, trimmed to 1 minute
	waitSamples    []time.Duration
	execSamples    []time.Duration
	completedCount int64
	failedCount    int64
	retriedCount   int64
	breakdownAccepted int64
	breakdownRejected int64

	lastHealth HealthStatus
}

// New creates a Monitor bound to store/bus/cfg. log may be the zero
// value, which discards output.
func New(store *task.Store, bus *events.Bus, cfg *config.Config, log zerolog.Logger) *Monitor {
	reg := prometheus.NewRegistry()
	m := &Monitor{
		store:      store,
		bus:        bus,
		cfg:        cfg,
		log:        log.With().Str("component", "monitor").Logger(),
		thresholds: DefaultThresholds(),
		registry:   reg,

		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_completed_total", Help: "Total tasks completed.",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_failed_total", Help: "Total tasks terminally failed.",
		}),
		retriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_retried_total", Help: "Total retry attempts scheduled.",
		}),
		cancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_cancelled_total", Help: "Total tasks cancelled.",
		}),
		breakdownOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_breakdowns_accepted_total", Help: "Total breakdowns accepted.",
		}),
		breakdownReject: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_breakdowns_rejected_total", Help: "Total breakdowns rejected.",
		}),
		waitHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "taskforge_task_wait_seconds", Help: "Time spent queued before dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		execHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "taskforge_task_execution_seconds", Help: "Task execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_queue_depth", Help: "Pending+blocked task count.",
		}),
		healthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_health_score", Help: "Current queue health score, 0-100.",
		}),
		lastHealth: HealthHealthy,
	}
	reg.MustRegister(m.completedTotal, m.failedTotal, m.retriedTotal, m.cancelledTotal,
		m.breakdownOK, m.breakdownReject, m.waitHistogram, m.execHistogram,
		m.queueDepthGauge, m.healthGauge)
	return m
}

// Thresholds returns the health-score warning thresholds currently in
// effect, so callers like the Optimizer can key tuning rules off the
// same levels the health score uses.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Registry exposes the private prometheus.Registry for a caller-owned
// /metrics HTTP handler (out of scope here per spec §1 "REST/WebSocket
// servers").
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// Run subscribes to the bus and updates rolling state until ctx is
// cancelled. It also samples queue depth and recomputes the health
// score on every tick interval, emitting alert_raised/alert_resolved
// transitions (spec §4.9).
func (m *Monitor) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	sub := m.bus.SubscribeAll(512)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			m.observe(ev)
		case now := <-ticker.C:
			m.tickHealth(now)
		}
	}
}

func (m *Monitor) observe(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskCompletedEvent:
		m.mu.Lock()
		m.completedCount++
		m.completions = append(m.completions, e.Timestamp)
		m.execSamples = appendSample(m.execSamples, e.Duration)
		m.mu.Unlock()
		m.completedTotal.Inc()
		m.execHistogram.Observe(e.Duration.Seconds())
	case events.TaskFailedEvent:
		m.mu.Lock()
		m.failedCount++
		m.mu.Unlock()
		m.failedTotal.Inc()
	case events.TaskRetryingEvent:
		m.mu.Lock()
		m.retriedCount++
		m.mu.Unlock()
		m.retriedTotal.Inc()
	case events.TaskCancelledEvent:
		m.cancelledTotal.Inc()
	case events.TaskStartedEvent:
		// Wait time is measured at dispatch: the scheduler's
		// Recompute/ApplyStarvation clock and TaskStartedEvent.Timestamp
		// bound it, but the task's own CreatedAt is the authoritative
		// start of the wait — look it up rather than threading it through
		// the event.
		if t, err := m.store.Get(e.TaskID); err == nil {
			wait := e.Timestamp.Sub(t.CreatedAt)
			m.mu.Lock()
			m.waitSamples = appendSample(m.waitSamples, wait)
			m.mu.Unlock()
			m.waitHistogram.Observe(wait.Seconds())
		}
	case events.BreakdownAcceptedEvent:
		m.mu.Lock()
		m.breakdownAccepted++
		m.mu.Unlock()
		m.breakdownOK.Inc()
	case events.BreakdownRejectedEvent:
		m.mu.Lock()
		m.breakdownRejected++
		m.mu.Unlock()
		m.breakdownReject.Inc()
	}
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > waitSampleWindow {
		samples = samples[len(samples)-waitSampleWindow:]
	}
	return samples
}

// Snapshot computes the current metricsSnapshot (spec §6 metrics()).
func (m *Monitor) Snapshot() Snapshot {
	now := time.Now()
	queueDepth := len(m.store.ByStatus(task.StatusQueued)) + len(m.store.ByStatus(task.StatusBlocked))
	active := len(m.store.ByStatus(task.StatusInProgress))

	m.mu.Lock()
	m.completions = trimOlderThan(m.completions, now.Add(-time.Minute))
	throughput := float64(len(m.completions))
	avgWait := average(m.waitSamples)
	p95Wait := percentile(m.waitSamples, 0.95)
	completed, failed, retried := m.completedCount, m.failedCount, m.retriedCount
	breakdownOK, breakdownRej := m.breakdownAccepted, m.breakdownRejected
	m.mu.Unlock()

	snap := Snapshot{
		Throughput:          throughput,
		AverageWaitTime:      avgWait,
		P95WaitTime:          p95Wait,
		SuccessRate:          successRate(completed, failed),
		RetryRate:            retryRate(retried, completed, failed),
		BreakdownSuccessRate: successRate(breakdownOK, breakdownRej),
		QueueDepth:           queueDepth,
		ActiveTasks:          active,
	}
	if m.cfg.MaxConcurrentTasks > 0 {
		snap.ResourceUtilization = float64(active) / float64(m.cfg.MaxConcurrentTasks)
	}
	snap.HealthScore, snap.Health = m.healthScore(snap)
	m.queueDepthGauge.Set(float64(queueDepth))
	m.healthGauge.Set(float64(snap.HealthScore))
	return snap
}

func successRate(ok, fail int64) float64 {
	total := ok + fail
	if total == 0 {
		return 1.0
	}
	return float64(ok) / float64(total)
}

func retryRate(retried, completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(retried) / float64(total)
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

// percentile returns the p-th percentile (0,1] of samples, computed on a
// sorted copy so the caller's slice (and its append-amortized capacity)
// is left untouched.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func trimOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// tickHealth recomputes the snapshot/health score on the tick cadence
// and emits alert_raised/alert_resolved on a status transition.
func (m *Monitor) tickHealth(now time.Time) {
	snap := m.Snapshot()
	if snap.Health == m.lastHealth {
		return
	}
	if snap.Health == HealthHealthy {
		m.bus.Publish(events.TopicAlert, events.AlertResolvedEvent{
			Condition: string(m.lastHealth), Timestamp: now,
		})
	} else {
		m.bus.Publish(events.TopicAlert, events.AlertRaisedEvent{
			Condition: string(snap.Health), Severity: string(snap.Health), Timestamp: now,
		})
	}
	m.lastHealth = snap.Health
}
