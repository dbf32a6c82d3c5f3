package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/task"
)

func newTestGraph(resolution Resolution) (*Graph, *task.Store) {
	store := task.NewStore()
	return New(store, nil, resolution), store
}

func putTask(t *testing.T, store *task.Store, id string, priority task.Priority) {
	t.Helper()
	require.NoError(t, store.Put(&task.Task{ID: id, BasePriority: priority, MaxRetries: 1}, false))
}

func TestAddEdgeRejectsMissingEndpoints(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	putTask(t, store, "a", task.PriorityNormal)

	err := g.AddEdge(task.Edge{Dependent: "a", DependsOn: "missing", Kind: task.EdgeHard})
	require.Error(t, err)
	assert.True(t, task.Is(err, task.KindInvalidInput))
}

func TestAddEdgeStrictRejectsCycle(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	putTask(t, store, "a", task.PriorityNormal)
	putTask(t, store, "b", task.PriorityNormal)

	require.NoError(t, g.AddEdge(task.Edge{Dependent: "a", DependsOn: "b", Kind: task.EdgeHard}))
	err := g.AddEdge(task.Edge{Dependent: "b", DependsOn: "a", Kind: task.EdgeHard})
	require.Error(t, err)
	assert.True(t, task.Is(err, task.KindCycleIntroduced))

	analysis := g.Analyze()
	assert.False(t, analysis.HasCycles)
}

func TestAddEdgeBestEffortDropsLowestPriorityEdge(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	store := task.NewStore()
	g := New(store, bus, ResolutionBestEffort)

	putTask(t, store, "a", task.PriorityCritical)
	putTask(t, store, "b", task.PriorityBackground)

	ch := bus.Subscribe(events.TopicGraph, 4)

	require.NoError(t, g.AddEdge(task.Edge{Dependent: "a", DependsOn: "b", Kind: task.EdgeHard}))
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "b", DependsOn: "a", Kind: task.EdgeHard}))

	analysis := g.Analyze()
	assert.False(t, analysis.HasCycles)

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventEdgeDropped, ev.EventType())
	default:
		t.Fatal("expected edge_dropped_to_resolve_cycle event")
	}
}

func TestLinearChainLevelsAndCriticalPath(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	putTask(t, store, "a", task.PriorityNormal)
	putTask(t, store, "b", task.PriorityNormal)
	putTask(t, store, "c", task.PriorityNormal)

	require.NoError(t, g.AddEdge(task.Edge{Dependent: "b", DependsOn: "a", Kind: task.EdgeHard}))
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "c", DependsOn: "b", Kind: task.EdgeHard}))

	analysis := g.Analyze()
	require.False(t, analysis.HasCycles)
	assert.Equal(t, []string{"a"}, analysis.Levels[0])
	assert.Equal(t, []string{"b"}, analysis.Levels[1])
	assert.Equal(t, []string{"c"}, analysis.Levels[2])
	assert.Equal(t, []string{"a", "b", "c"}, analysis.CriticalPath)
}

func TestDiamondReadySet(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	putTask(t, store, "a", task.PriorityNormal)
	putTask(t, store, "b", task.PriorityNormal)
	putTask(t, store, "c", task.PriorityNormal)
	putTask(t, store, "d", task.PriorityNormal)

	require.NoError(t, g.AddEdge(task.Edge{Dependent: "b", DependsOn: "a", Kind: task.EdgeHard}))
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "c", DependsOn: "a", Kind: task.EdgeHard}))
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "d", DependsOn: "b", Kind: task.EdgeHard}))
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "d", DependsOn: "c", Kind: task.EdgeHard}))

	ready := g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	_, err := store.Update("a", func(tk *task.Task) (*task.Task, error) {
		tk.Status = task.StatusCompleted
		now := tk.UpdatedAt
		tk.StartedAt = &now
		tk.CompletedAt = &now
		return tk, nil
	})
	require.NoError(t, err)

	ready = g.Ready()
	ids := []string{ready[0].ID, ready[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestDependentIndexInvariant(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	putTask(t, store, "a", task.PriorityNormal)
	putTask(t, store, "b", task.PriorityNormal)

	require.NoError(t, g.AddEdge(task.Edge{Dependent: "b", DependsOn: "a", Kind: task.EdgeHard}))

	a, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, a.DependentIDs)

	b, err := store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, b.DependencyIDs)
}

func TestParallelGroupsSplitOnResourceConflict(t *testing.T) {
	g, store := newTestGraph(ResolutionStrict)
	require.NoError(t, store.Put(&task.Task{ID: "a", RequiredResources: []string{"db"}, MaxRetries: 1}, false))
	require.NoError(t, store.Put(&task.Task{ID: "b", RequiredResources: []string{"db"}, MaxRetries: 1}, false))
	require.NoError(t, store.Put(&task.Task{ID: "c", RequiredResources: []string{"cache"}, MaxRetries: 1}, false))

	analysis := g.Analyze()
	require.Len(t, analysis.ParallelGroups, 2)

	var groupWithA, groupWithC []string
	for _, grp := range analysis.ParallelGroups {
		for _, id := range grp {
			if id == "a" {
				groupWithA = grp
			}
			if id == "c" {
				groupWithC = grp
			}
		}
	}
	assert.NotContains(t, groupWithA, "b")
	assert.Contains(t, groupWithC, "c")
}
