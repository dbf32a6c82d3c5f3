package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/task"
)

func newTestSetup(t *testing.T, strategy config.SchedulingStrategy, policy config.SelectionPolicy) (*Scheduler, *task.Store, *graph.Graph) {
	t.Helper()
	store := task.NewStore()
	g := graph.New(store, nil, graph.ResolutionStrict)
	cfg := config.DefaultConfig()
	cfg.SchedulingStrategy = strategy
	cfg.SelectionPolicy = policy
	return New(g, cfg), store, g
}

func putTask(t *testing.T, store *task.Store, id string, priority task.Priority, age time.Duration) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID: id, BasePriority: priority, MaxRetries: 1,
		Status: task.StatusQueued, EstimatedDuration: time.Minute,
	}
	require.NoError(t, store.Put(tk, false))
	_, err := store.Update(id, func(inner *task.Task) (*task.Task, error) {
		inner.CreatedAt = time.Now().Add(-age)
		return inner, nil
	})
	require.NoError(t, err)
	got, err := store.Get(id)
	require.NoError(t, err)
	return got
}

func TestRecomputeHybridRanksCriticalAboveBackground(t *testing.T) {
	s, store, _ := newTestSetup(t, config.StrategyHybrid, config.SelectionStrictPriority)
	putTask(t, store, "critical-task", task.PriorityCritical, time.Minute)
	putTask(t, store, "background-task", task.PriorityBackground, time.Minute)

	s.Recompute(store, Context{Now: time.Now()})

	critical, err := store.Get("critical-task")
	require.NoError(t, err)
	background, err := store.Get("background-task")
	require.NoError(t, err)

	assert.Greater(t, critical.DynamicPriority, background.DynamicPriority)
}

func TestRecomputeStaticIgnoresAge(t *testing.T) {
	s, store, _ := newTestSetup(t, config.StrategyStatic, config.SelectionStrictPriority)
	putTask(t, store, "old", task.PriorityNormal, 30*24*time.Hour)
	putTask(t, store, "new", task.PriorityNormal, time.Minute)

	s.Recompute(store, Context{Now: time.Now()})

	old, _ := store.Get("old")
	newer, _ := store.Get("new")
	assert.Equal(t, old.DynamicPriority, newer.DynamicPriority)
}

func TestRecomputeAgeBasedFavorsOlderTask(t *testing.T) {
	s, store, _ := newTestSetup(t, config.StrategyAgeBased, config.SelectionStrictPriority)
	putTask(t, store, "old", task.PriorityNormal, 72*time.Hour)
	putTask(t, store, "new", task.PriorityNormal, time.Minute)

	s.Recompute(store, Context{Now: time.Now()})

	old, _ := store.Get("old")
	newer, _ := store.Get("new")
	assert.Greater(t, old.DynamicPriority, newer.DynamicPriority)
}

func TestRecomputeDeadlineDrivenFavorsUrgent(t *testing.T) {
	s, store, _ := newTestSetup(t, config.StrategyDeadlineDriven, config.SelectionStrictPriority)
	urgent := putTask(t, store, "urgent", task.PriorityNormal, time.Minute)
	relaxed := putTask(t, store, "relaxed", task.PriorityNormal, time.Minute)

	now := time.Now()
	soon := now.Add(time.Hour)
	far := now.Add(6 * 24 * time.Hour)
	_, err := store.Update(urgent.ID, func(tk *task.Task) (*task.Task, error) { tk.Deadline = &soon; return tk, nil })
	require.NoError(t, err)
	_, err = store.Update(relaxed.ID, func(tk *task.Task) (*task.Task, error) { tk.Deadline = &far; return tk, nil })
	require.NoError(t, err)

	s.Recompute(store, Context{Now: now})

	u, _ := store.Get("urgent")
	r, _ := store.Get("relaxed")
	assert.Greater(t, u.DynamicPriority, r.DynamicPriority)
}

func TestSelectRespectsSlotCount(t *testing.T) {
	s, store, g := newTestSetup(t, config.StrategyHybrid, config.SelectionStrictPriority)
	for _, id := range []string{"a", "b", "c", "d"} {
		putTask(t, store, id, task.PriorityNormal, time.Minute)
	}
	ready := g.Ready()
	decision := s.Select(ready, 2, Context{Now: time.Now()})
	assert.Len(t, decision.Selected, 2)
	assert.Len(t, decision.Alternatives, 2)
}

func TestSelectExcludesResourceConflicts(t *testing.T) {
	s, store, g := newTestSetup(t, config.StrategyHybrid, config.SelectionStrictPriority)
	require.NoError(t, store.Put(&task.Task{ID: "a", BasePriority: task.PriorityCritical, RequiredResources: []string{"db"}, MaxRetries: 1, Status: task.StatusQueued}, false))
	require.NoError(t, store.Put(&task.Task{ID: "b", BasePriority: task.PriorityCritical, RequiredResources: []string{"db"}, MaxRetries: 1, Status: task.StatusQueued}, false))

	ready := g.Ready()
	decision := s.Select(ready, 2, Context{Now: time.Now()})
	assert.Len(t, decision.Selected, 1, "only one of the two db-conflicting tasks should be selected")
	assert.Len(t, decision.Alternatives, 1)
}

func TestSelectHonorsConfiguredResourcePoolCapacity(t *testing.T) {
	s, store, g := newTestSetup(t, config.StrategyHybrid, config.SelectionStrictPriority)
	s.cfg.ResourcePools = map[string]int{"db": 2}
	require.NoError(t, store.Put(&task.Task{ID: "a", BasePriority: task.PriorityCritical, RequiredResources: []string{"db"}, MaxRetries: 1, Status: task.StatusQueued}, false))
	require.NoError(t, store.Put(&task.Task{ID: "b", BasePriority: task.PriorityCritical, RequiredResources: []string{"db"}, MaxRetries: 1, Status: task.StatusQueued}, false))

	ready := g.Ready()
	decision := s.Select(ready, 2, Context{Now: time.Now()})
	assert.Len(t, decision.Selected, 2, "pool capacity of 2 should admit both db-using tasks")
}

func TestSelectReturnsEmptyDecisionWhenNoSlots(t *testing.T) {
	s, store, g := newTestSetup(t, config.StrategyHybrid, config.SelectionStrictPriority)
	putTask(t, store, "a", task.PriorityNormal, time.Minute)
	ready := g.Ready()
	decision := s.Select(ready, 0, Context{Now: time.Now()})
	assert.Empty(t, decision.Selected)
}

func TestWeightedRoundRobinIncludesLowerPriorityEventually(t *testing.T) {
	s, store, g := newTestSetup(t, config.StrategyStatic, config.SelectionWeightedRoundRobin)
	for i := 0; i < 5; i++ {
		putTask(t, store, "critical-"+itoa(i), task.PriorityCritical, time.Minute)
	}
	putTask(t, store, "background-1", task.PriorityBackground, time.Minute)

	ready := g.Ready()
	decision := s.Select(ready, len(ready), Context{Now: time.Now()})
	var sawBackground bool
	for _, sel := range decision.Selected {
		if sel.ID == "background-1" {
			sawBackground = true
		}
	}
	assert.True(t, sawBackground, "weightedRoundRobin must not starve the background bucket entirely when all slots are available")
}

func TestApplyAdaptiveBoostGrantsStickyBoostPastThreshold(t *testing.T) {
	store := task.NewStore()
	cfg := config.DefaultConfig()
	cfg.StarvationMode = config.StarvationAdaptive
	cfg.MaxStarvationTimeMs = 1000
	cfg.MaxPriorityBoost = 50

	putTask(t, store, "stale", task.PriorityNormal, 10*time.Second)
	ApplyStarvation(store, cfg, time.Now())

	got, err := store.Get("stale")
	require.NoError(t, err)
	assert.Greater(t, got.StarvationBoost, 0)
	assert.LessOrEqual(t, got.StarvationBoost, cfg.MaxPriorityBoost)
}

func TestApplyAdaptiveBoostIsStickyAcrossTicks(t *testing.T) {
	store := task.NewStore()
	cfg := config.DefaultConfig()
	cfg.StarvationMode = config.StarvationAdaptive
	cfg.MaxStarvationTimeMs = 1000
	cfg.MaxPriorityBoost = 50

	putTask(t, store, "stale", task.PriorityNormal, 10*time.Minute)
	ApplyStarvation(store, cfg, time.Now())
	first, _ := store.Get("stale")

	// A later tick with a shorter apparent overage must not lower the boost.
	ApplyStarvation(store, cfg, time.Now().Add(-5*time.Minute))
	second, _ := store.Get("stale")

	assert.GreaterOrEqual(t, second.StarvationBoost, first.StarvationBoost)
}
