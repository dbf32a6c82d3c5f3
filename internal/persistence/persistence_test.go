package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/task"
)

func TestSaveThenLoadRoundTripsSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 5, "session-1", nil, zerolog.Nop())

	snap := Snapshot{
		Timestamp: time.Now(),
		Tasks: []*task.Task{
			{ID: "a", Title: "first", Status: task.StatusQueued, BasePriority: task.PriorityNormal},
		},
	}
	require.NoError(t, s.Save(snap))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, "a", loaded.Tasks[0].ID)
	assert.Equal(t, CurrentSchemaVersion, loaded.SchemaVersion)

	assert.FileExists(t, filepath.Join(dir, stateFileName))
	backups, err := os.ReadDir(filepath.Join(dir, backupsDir))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestLoadMissingFileReturnsZeroSnapshot(t *testing.T) {
	s := New(t.TempDir(), 5, "session-1", nil, zerolog.Nop())
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
}

func TestPruneBackupsKeepsOnlyMaxBackups(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2, "session-1", nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		snap := Snapshot{Timestamp: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.Save(snap))
	}

	backups, err := os.ReadDir(filepath.Join(dir, backupsDir))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
}

func TestSaveWithRetryEntersDegradedModeAfterConsecutiveFailures(t *testing.T) {
	// Point the store at a path that cannot be created (a file, not a
	// directory, as the parent) so every Save attempt fails deterministically.
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	dir := filepath.Join(blocker, "storage")

	bus := events.NewBus()
	sub := bus.Subscribe(events.TopicAlert, 16)
	s := New(dir, 5, "session-1", bus, zerolog.Nop())

	for i := 0; i < maxConsecutiveFailures; i++ {
		err := s.SaveWithRetry(context.Background(), Snapshot{})
		require.Error(t, err)
	}
	assert.True(t, s.Degraded())

	select {
	case ev := <-sub:
		alert, ok := ev.(events.AlertRaisedEvent)
		require.True(t, ok)
		assert.Equal(t, "degraded-no-persistence", alert.Condition)
	default:
		t.Fatal("expected a degraded-no-persistence alert")
	}
}

func TestRestoreResetsInFlightTasksToQueuedAndPreservesRetryCount(t *testing.T) {
	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graph.ResolutionStrict)
	registry := runner.NewRegistry()
	registry.Register("noop", runner.Func(func(ctx runner.Context) (runner.Result, error) { return runner.Result{}, nil }))

	started := time.Now()
	snap := Snapshot{
		Tasks: []*task.Task{
			{ID: "a", Status: task.StatusInProgress, StartedAt: &started, RunnerName: "noop", RetryCount: 2, MaxRetries: 3},
		},
	}

	result, err := Restore(snap, store, g, registry, RestoreOptions{})
	require.NoError(t, err)
	assert.Contains(t, result.ResetToQueued, "a")

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.StartedAt)
}

func TestRestoreMarksTaskFailedWhenRunnerMissing(t *testing.T) {
	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graph.ResolutionStrict)
	registry := runner.NewRegistry()

	snap := Snapshot{
		Tasks: []*task.Task{
			{ID: "a", Status: task.StatusQueued, RunnerName: "ghost"},
		},
	}

	result, err := Restore(snap, store, g, registry, RestoreOptions{})
	require.NoError(t, err)
	assert.Contains(t, result.RunnerMissing, "a")

	got, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "runner-not-registered", got.LastError)
}

func TestRestoreDropsOrphanEdgesUnderRepair(t *testing.T) {
	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graph.ResolutionStrict)
	registry := runner.NewRegistry()

	snap := Snapshot{
		Tasks: []*task.Task{{ID: "a", Status: task.StatusQueued}},
		Edges: []task.Edge{{Dependent: "a", DependsOn: "ghost-parent", Kind: task.EdgeHard}},
	}

	result, err := Restore(snap, store, g, registry, RestoreOptions{Repair: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EdgesDropped)
	assert.Equal(t, 0, result.EdgesLoaded)
}
