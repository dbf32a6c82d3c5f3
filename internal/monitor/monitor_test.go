package monitor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/task"
)

func newTestMonitor(t *testing.T) (*Monitor, *task.Store, *events.Bus) {
	t.Helper()
	store := task.NewStore()
	bus := events.NewBus()
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentTasks = 4
	m := New(store, bus, cfg, zerolog.Nop())
	return m, store, bus
}

func TestSnapshotReportsEmptyQueueAsFullyHealthy(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.QueueDepth)
	assert.Equal(t, HealthHealthy, snap.Health)
	assert.Equal(t, 100, snap.HealthScore)
}

func TestSnapshotDetectsStagnation(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	require.NoError(t, store.Put(&task.Task{ID: "a", Status: task.StatusQueued, BasePriority: task.PriorityNormal}, false))

	snap := m.Snapshot()
	assert.NotEqual(t, HealthHealthy, snap.Health)
	assert.Less(t, snap.HealthScore, 100)
}

func TestObserveUpdatesCompletionAndFailureCounters(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	require.NoError(t, store.Put(&task.Task{ID: "a", Status: task.StatusInProgress, CreatedAt: time.Now().Add(-time.Second)}, false))

	m.observe(events.TaskStartedEvent{TaskID: "a", Timestamp: time.Now()})
	m.observe(events.TaskCompletedEvent{TaskID: "a", Duration: 5 * time.Second, Timestamp: time.Now()})
	m.observe(events.TaskFailedEvent{TaskID: "b", Err: "boom", Timestamp: time.Now()})

	snap := m.Snapshot()
	assert.EqualValues(t, 1, m.completedCount)
	assert.EqualValues(t, 1, m.failedCount)
	assert.InDelta(t, 0.5, snap.SuccessRate, 0.001)
	assert.Greater(t, snap.AverageWaitTime, time.Duration(0))
}

func TestHealthScoreWorsensWithQueueDepth(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.thresholds.QueueSizeWarning = 1

	healthy := Snapshot{QueueDepth: 0, SuccessRate: 1}
	loaded := Snapshot{QueueDepth: 20, SuccessRate: 1}

	scoreHealthy, _ := m.healthScore(healthy)
	scoreLoaded, _ := m.healthScore(loaded)
	assert.Greater(t, scoreHealthy, scoreLoaded)
}

func TestTickHealthPublishesAlertOnDegradation(t *testing.T) {
	m, store, bus := newTestMonitor(t)
	m.thresholds.QueueSizeWarning = 0
	sub := bus.Subscribe(events.TopicAlert, 8)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(&task.Task{ID: string(rune('a' + i)), Status: task.StatusQueued}, false))
	}

	m.tickHealth(time.Now())

	select {
	case ev := <-sub:
		alert, ok := ev.(events.AlertRaisedEvent)
		require.True(t, ok)
		assert.NotEmpty(t, alert.Severity)
	default:
		t.Fatal("expected an alert_raised event")
	}
}
