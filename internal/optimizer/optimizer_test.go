package optimizer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/monitor"
	"github.com/taskforge/engine/internal/scheduler"
	"github.com/taskforge/engine/internal/task"
)

func newTestOptimizer(t *testing.T) (*Optimizer, *task.Store, *config.Config, *events.Bus) {
	t.Helper()
	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graph.ResolutionStrict)
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentTasks = 4
	sched := scheduler.New(g, cfg)
	mon := monitor.New(store, bus, cfg, zerolog.Nop())
	return New(cfg, sched, mon, bus, zerolog.Nop()), store, cfg, bus
}

func TestTuneConcurrencyIncreasesUnderSaturation(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	snap := monitor.Snapshot{ResourceUtilization: 0.95, QueueDepth: 10, HealthScore: 80}

	adj := o.tuneConcurrency(snap)
	require.NotNil(t, adj)
	assert.Equal(t, 5, cfg.MaxConcurrentTasks)
}

func TestTuneConcurrencyDecreasesWhenIdle(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	snap := monitor.Snapshot{ResourceUtilization: 0.1, QueueDepth: 0, HealthScore: 100}

	adj := o.tuneConcurrency(snap)
	require.NotNil(t, adj)
	assert.Equal(t, 3, cfg.MaxConcurrentTasks)
}

func TestTuneConcurrencyNoopInSteadyState(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	snap := monitor.Snapshot{ResourceUtilization: 0.6, QueueDepth: 2, HealthScore: 90}

	adj := o.tuneConcurrency(snap)
	assert.Nil(t, adj)
	assert.Equal(t, 4, cfg.MaxConcurrentTasks)
}

func TestTuneBreakdownThresholdRespectsBounds(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	cfg.BreakdownThreshold = o.bounds.MinBreakdownThreshold

	adj := o.tuneBreakdownThreshold(monitor.Snapshot{BreakdownSuccessRate: 0.95})
	assert.Nil(t, adj, "must not cross MinBreakdownThreshold")
}

func TestTickPublishesAdaptationEventOnAppliedRule(t *testing.T) {
	o, _, cfg, bus := newTestOptimizer(t)
	cfg.MaxConcurrentTasks = 2
	sub := bus.Subscribe(events.TopicAdapt, 16)

	o.mu.Lock()
	o.tryRule("concurrency", monitor.Snapshot{ResourceUtilization: 0.95, QueueDepth: 10, HealthScore: 80}, o.tuneConcurrency)
	o.mu.Unlock()

	select {
	case ev := <-sub:
		adapt, ok := ev.(events.AdaptationAppliedEvent)
		require.True(t, ok)
		assert.Equal(t, "maxConcurrentTasks", adapt.Parameter)
	default:
		t.Fatal("expected an adaptation_applied event")
	}
}

func TestTryRuleHonorsCooldown(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	cfg.MaxConcurrentTasks = 2
	snap := monitor.Snapshot{ResourceUtilization: 0.95, QueueDepth: 10, HealthScore: 80}

	o.mu.Lock()
	o.tryRule("concurrency", snap, o.tuneConcurrency)
	before := cfg.MaxConcurrentTasks
	o.tryRule("concurrency", snap, o.tuneConcurrency)
	o.mu.Unlock()

	assert.Equal(t, before, cfg.MaxConcurrentTasks, "second call within cooldown must not apply again")
}

func TestCheckRegressionsRevertsAfterStabilityWindowOnWorseHealth(t *testing.T) {
	o, _, cfg, _ := newTestOptimizer(t)
	old := cfg.MaxConcurrentTasks
	o.pending = append(o.pending, pendingAdjustment{
		parameter: "maxConcurrentTasks", oldValue: "4", newValue: "5",
		appliedAt: pastTime(), healthAtApply: 100,
		revert: func() { cfg.MaxConcurrentTasks = old },
	})
	cfg.MaxConcurrentTasks = 5

	o.checkRegressions(monitor.Snapshot{HealthScore: 50})
	assert.Equal(t, old, cfg.MaxConcurrentTasks)
	assert.Empty(t, o.pending)
}

func pastTime() time.Time { return time.Now().Add(-time.Hour) }
