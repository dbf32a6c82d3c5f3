package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/lifecycle"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/scheduler"
	"github.com/taskforge/engine/internal/task"
)

func newTestPool(t *testing.T) (*Pool, *task.Store, *graph.Graph, *runner.Registry) {
	t.Helper()
	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graph.ResolutionStrict)
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentTasks = 4
	cfg.DefaultTimeoutMs = 2000
	life := lifecycle.New(store, zerolog.Nop())
	sched := scheduler.New(g, cfg)
	registry := runner.NewRegistry()
	pool := New(store, g, life, sched, registry, bus, cfg, zerolog.Nop())
	return pool, store, g, registry
}

func putRunnableTask(t *testing.T, store *task.Store, id, runnerName string, maxRetries int, expected map[string]string) {
	t.Helper()
	require.NoError(t, store.Put(&task.Task{
		ID:              id,
		RunnerName:      runnerName,
		MaxRetries:      maxRetries,
		Status:          task.StatusQueued,
		BasePriority:    task.PriorityNormal,
		ExpectedOutputs: expected,
	}, false))
}

func TestPoolRunExecutesReadyTaskToCompletion(t *testing.T) {
	pool, store, _, registry := newTestPool(t)
	registry.Register("noop", runner.Func(func(ctx runner.Context) (runner.Result, error) {
		ctx.Progress(100, "done")
		return runner.Result{Outputs: map[string]string{"result": "ok"}}, nil
	}))
	putRunnableTask(t, store, "a", "noop", 1, map[string]string{"result": "string"})

	require.NoError(t, pool.Run(context.Background()))

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	history := pool.History("a")
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
}

func TestPoolRunFailsOnMissingExpectedOutput(t *testing.T) {
	pool, store, _, registry := newTestPool(t)
	registry.Register("incomplete", runner.Func(func(ctx runner.Context) (runner.Result, error) {
		return runner.Result{Outputs: map[string]string{}}, nil
	}))
	putRunnableTask(t, store, "a", "incomplete", 0, map[string]string{"result": "string"})

	require.NoError(t, pool.Run(context.Background()))

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)

	history := pool.History("a")
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestPoolRunCascadesHardDependentsToBlockedOnTerminalFailure(t *testing.T) {
	pool, store, g, _ := newTestPool(t)
	putRunnableTask(t, store, "parent", "unregistered", 0, nil)
	putRunnableTask(t, store, "child", "unregistered", 0, nil)
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "child", DependsOn: "parent", Kind: task.EdgeHard}))

	require.NoError(t, pool.Run(context.Background()))

	parent, err := store.Get("parent")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, parent.Status)

	child, err := store.Get("child")
	require.NoError(t, err)
	assert.Equal(t, task.StatusBlocked, child.Status)
}

func TestPoolRunLeavesSoftDependentsUnblockedOnFailure(t *testing.T) {
	pool, store, g, _ := newTestPool(t)
	putRunnableTask(t, store, "parent", "unregistered", 0, nil)
	putRunnableTask(t, store, "child", "unregistered", 0, nil)
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "child", DependsOn: "parent", Kind: task.EdgeSoft}))

	// child has no blocking dependency so it is ready immediately; it fails
	// on its own missing runner, but must not be cascaded to blocked.
	require.NoError(t, pool.Run(context.Background()))

	child, err := store.Get("child")
	require.NoError(t, err)
	assert.NotEqual(t, task.StatusBlocked, child.Status)
}

func TestPoolCancelTransitionsNotYetDispatchedTaskDirectly(t *testing.T) {
	pool, store, _, _ := newTestPool(t)
	putRunnableTask(t, store, "x", "noop", 1, nil)

	require.NoError(t, pool.Cancel("x", "user requested stop"))

	got, err := store.Get("x")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestPoolCancelOnTerminalTaskIsNoop(t *testing.T) {
	pool, store, _, registry := newTestPool(t)
	registry.Register("noop", runner.Func(func(ctx runner.Context) (runner.Result, error) {
		return runner.Result{}, nil
	}))
	putRunnableTask(t, store, "a", "noop", 1, nil)
	require.NoError(t, pool.Run(context.Background()))

	require.NoError(t, pool.Cancel("a", "too late"))

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestPoolRunReportsDependencyResultsToDependents(t *testing.T) {
	pool, store, g, registry := newTestPool(t)
	registry.Register("produce", runner.Func(func(ctx runner.Context) (runner.Result, error) {
		return runner.Result{Outputs: map[string]string{"value": "42"}}, nil
	}))
	var sawDependency bool
	registry.Register("consume", runner.Func(func(ctx runner.Context) (runner.Result, error) {
		if res, ok := ctx.DependencyResults["parent"]; ok {
			sawDependency = res.Outputs["value"] == "42"
		}
		return runner.Result{}, nil
	}))
	putRunnableTask(t, store, "parent", "produce", 1, nil)
	putRunnableTask(t, store, "child", "consume", 1, nil)
	require.NoError(t, g.AddEdge(task.Edge{Dependent: "child", DependsOn: "parent", Kind: task.EdgeHard}))

	require.NoError(t, pool.Run(context.Background()))
	assert.True(t, sawDependency, "child runner must see parent's published result")
}
