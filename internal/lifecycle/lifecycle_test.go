package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/task"
)

func newTestManager(t *testing.T) (*Manager, *task.Store) {
	t.Helper()
	store := task.NewStore()
	require.NoError(t, store.Put(&task.Task{ID: "t1", Status: task.StatusQueued, MaxRetries: 1}, false))
	return New(store, zerolog.Nop()), store
}

func TestTransitionPermitted(t *testing.T) {
	m, store := newTestManager(t)

	require.NoError(t, m.Transition("t1", task.StatusAssigned, TriggerSchedule, "picked by executor"))

	got, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAssigned, got.Status)
}

func TestTransitionRejectsUnlistedEdge(t *testing.T) {
	m, store := newTestManager(t)

	err := m.Transition("t1", task.StatusCompleted, TriggerExecutor, "")
	require.Error(t, err)
	assert.True(t, task.Is(err, task.KindInvalidInput))

	got, _ := store.Get("t1")
	assert.Equal(t, task.StatusQueued, got.Status, "rejected transition must not mutate status")
}

func TestTransitionSameStateIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Transition("t1", task.StatusQueued, TriggerSchedule, ""))
}

func TestTransitionSetsStartedAtOnce(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, m.Transition("t1", task.StatusAssigned, TriggerSchedule, ""))
	require.NoError(t, m.Transition("t1", task.StatusInProgress, TriggerExecutor, ""))

	first, err := store.Get("t1")
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)
	startedAt := *first.StartedAt

	require.NoError(t, m.Transition("t1", task.StatusPaused, TriggerExecutor, ""))
	require.NoError(t, m.Transition("t1", task.StatusResuming, TriggerUser, ""))
	require.NoError(t, m.Transition("t1", task.StatusInProgress, TriggerExecutor, ""))

	second, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, startedAt, *second.StartedAt, "StartedAt must not be overwritten on re-entry")
}

func TestTransitionSetsCompletedAtOnTerminal(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, m.Transition("t1", task.StatusAssigned, TriggerSchedule, ""))
	require.NoError(t, m.Transition("t1", task.StatusInProgress, TriggerExecutor, ""))
	require.NoError(t, m.Transition("t1", task.StatusCompleting, TriggerExecutor, ""))
	require.NoError(t, m.Transition("t1", task.StatusCompleted, TriggerExecutor, ""))

	got, err := store.Get("t1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestBeforeHookAbortsTransition(t *testing.T) {
	m, store := newTestManager(t)
	boom := errors.New("boom")
	m.Before(func(tsk *task.Task, from, to task.Status, trigger Trigger) error {
		if to == task.StatusAssigned {
			return boom
		}
		return nil
	})

	err := m.Transition("t1", task.StatusAssigned, TriggerSchedule, "")
	require.Error(t, err)
	assert.True(t, task.Is(err, task.KindInvalidInput))

	got, _ := store.Get("t1")
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestAfterHookErrorDoesNotAbort(t *testing.T) {
	m, store := newTestManager(t)
	called := false
	m.After(func(tsk *task.Task, from, to task.Status, trigger Trigger) error {
		called = true
		return errors.New("logged only")
	})

	require.NoError(t, m.Transition("t1", task.StatusAssigned, TriggerSchedule, ""))
	assert.True(t, called)

	got, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAssigned, got.Status)
}

func TestFullLifecycleHappyPath(t *testing.T) {
	m, store := newTestManager(t)
	path := []task.Status{
		task.StatusAssigned, task.StatusInProgress, task.StatusCompleting,
		task.StatusCompleted, task.StatusArchived,
	}
	for _, to := range path {
		require.NoError(t, m.Transition("t1", to, TriggerExecutor, ""))
	}
	got, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusArchived, got.Status)
}

func TestRetryLoopBackToQueued(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, m.Transition("t1", task.StatusAssigned, TriggerSchedule, ""))
	require.NoError(t, m.Transition("t1", task.StatusInProgress, TriggerExecutor, ""))
	require.NoError(t, m.Transition("t1", task.StatusFailed, TriggerExecutor, "runner error"))
	require.NoError(t, m.Transition("t1", task.StatusRetrying, TriggerRetry, ""))
	require.NoError(t, m.Transition("t1", task.StatusQueued, TriggerRetry, ""))

	got, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}
