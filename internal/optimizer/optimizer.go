// Package optimizer implements the Optimizer/Adapter (spec §4.7,
// component C7): a periodic tuning loop that watches Monitor snapshots
// and nudges live configuration and scheduler weights within guarded
// bounds, recording every change as an adaptation event and reverting it
// if the system regresses afterward.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/monitor"
	"github.com/taskforge/engine/internal/scheduler"
)

// Bounds caps every tunable parameter this package adjusts (spec §4.7:
// "each tuning rule is a guarded delta with cooldown").
type Bounds struct {
	MinConcurrency, MaxConcurrency         int
	MinBreakdownThreshold, MaxBreakdownThreshold float64
	MinAgeWeight, MaxAgeWeight             float64
	MinDependencyWeight, MaxDependencyWeight float64
	MinSystemWeight, MaxSystemWeight       float64
}

// DefaultBounds returns conservative bounds around the config defaults.
func DefaultBounds() Bounds {
	return Bounds{
		MinConcurrency: 1, MaxConcurrency: 64,
		MinBreakdownThreshold: 0.1, MaxBreakdownThreshold: 0.95,
		MinAgeWeight: 0, MaxAgeWeight: 2,
		MinDependencyWeight: 0, MaxDependencyWeight: 3,
		MinSystemWeight: 0.25, MaxSystemWeight: 3,
	}
}

// pendingAdjustment tracks a change awaiting its regression check.
type pendingAdjustment struct {
	parameter     string
	oldValue      string
	newValue      string
	appliedAt     time.Time
	healthAtApply int
	revert        func()
}

// Optimizer owns the tunable Weights (via scheduler.Scheduler.SetWeights)
// and a guarded subset of *config.Config fields. cfg must be the same
// instance the rest of the engine reads so changes take effect live.
type Optimizer struct {
	cfg   *config.Config
	sched *scheduler.Scheduler
	mon   *monitor.Monitor
	bus   *events.Bus
	log   zerolog.Logger

	bounds             Bounds
	regressionThreshold float64 // fraction; health-score drop beyond this reverts the change
	stabilityWindow     time.Duration
	cooldown            time.Duration

	mu       sync.Mutex
	weights  scheduler.Weights
	lastRule map[string]time.Time
	pending  []pendingAdjustment
}

// New creates an Optimizer bound to the shared config, scheduler, and
// monitor instances.
func New(cfg *config.Config, sched *scheduler.Scheduler, mon *monitor.Monitor, bus *events.Bus, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		cfg:                 cfg,
		sched:               sched,
		mon:                 mon,
		bus:                 bus,
		log:                 log.With().Str("component", "optimizer").Logger(),
		bounds:              DefaultBounds(),
		regressionThreshold: 0.15,
		stabilityWindow:      2 * time.Minute,
		cooldown:             1 * time.Minute,
		weights:              scheduler.DefaultWeights(),
		lastRule:             make(map[string]time.Time),
	}
}

// Run ticks on cfg.OptimizationInterval (or optimizationTick if > 0, used
// by tests to run faster than the configured interval) until ctx is
// cancelled.
func (o *Optimizer) Run(ctx context.Context, optimizationTick time.Duration) {
	interval := o.cfg.OptimizationInterval()
	if optimizationTick > 0 {
		interval = optimizationTick
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick()
		}
	}
}

// Weights returns the Optimizer's current scheduler.Weights, so a caller
// persisting a snapshot (spec §4.8 "schedulerWeights") can read back what
// the Optimizer last pushed through Scheduler.SetWeights without
// duplicating that state.
func (o *Optimizer) Weights() scheduler.Weights {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.weights
}

// Tick runs every tuning rule once and checks any pending adjustment for
// regression (spec §4.7: observe -> tune -> verify -> revert-if-worse).
func (o *Optimizer) Tick() {
	snap := o.mon.Snapshot()
	o.checkRegressions(snap)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.tryRule("concurrency", snap, o.tuneConcurrency)
	o.tryRule("breakdown-threshold", snap, o.tuneBreakdownThreshold)
	o.tryRule("age-weight", snap, o.tuneAgeWeight)
	o.tryRule("dependency-weight", snap, o.tuneDependencyWeight)
	o.tryRule("system-weight", snap, o.tuneSystemWeight)
}

func (o *Optimizer) tryRule(name string, snap monitor.Snapshot, rule func(monitor.Snapshot) *pendingAdjustment) {
	if last, ok := o.lastRule[name]; ok && time.Since(last) < o.cooldown {
		return
	}
	adj := rule(snap)
	if adj == nil {
		return
	}
	o.lastRule[name] = time.Now()
	o.pending = append(o.pending, *adj)
	o.bus.Publish(events.TopicAdapt, events.AdaptationAppliedEvent{
		Trigger: name, Parameter: adj.parameter, OldValue: adj.oldValue, NewValue: adj.newValue,
		Timestamp: time.Now(),
	})
}

// checkRegressions reverts any pending adjustment whose stability window
// has elapsed and whose health score worsened beyond regressionThreshold
// (spec §4.7: "reverting a change if a target metric worsens beyond
// regressionThreshold for a full stability window").
func (o *Optimizer) checkRegressions(snap monitor.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.pending[:0]
	for _, adj := range o.pending {
		if time.Since(adj.appliedAt) < o.stabilityWindow {
			kept = append(kept, adj)
			continue
		}
		drop := float64(adj.healthAtApply-snap.HealthScore) / float64(max1(adj.healthAtApply))
		if drop > o.regressionThreshold {
			adj.revert()
			o.log.Warn().Str("parameter", adj.parameter).Float64("drop", drop).Msg("reverting adaptation after regression")
			o.bus.Publish(events.TopicAdapt, events.AdaptationAppliedEvent{
				Trigger: "regression-revert", Parameter: adj.parameter,
				OldValue: adj.newValue, NewValue: adj.oldValue, Timestamp: time.Now(),
			})
		}
	}
	o.pending = kept
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
