// Package lifecycle is the sole owner of task.Status mutation (spec
// §4.5, component C5). Every other component calls Manager.Transition
// rather than writing Task.Status directly, the same single-writer
// discipline the teacher applies to TaskStatus via scheduler.DAG.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskforge/engine/internal/task"
)

// Trigger names why a transition was requested, recorded in the hook
// call and in logs for operator triage.
type Trigger string

const (
	TriggerSubmit      Trigger = "submit"
	TriggerSchedule    Trigger = "schedule"
	TriggerDependency  Trigger = "dependency"
	TriggerExecutor    Trigger = "executor"
	TriggerRetry       Trigger = "retry"
	TriggerUser        Trigger = "user"
	TriggerBreakdown   Trigger = "breakdown"
	TriggerExpiry      Trigger = "expiry"
	TriggerRepair      Trigger = "repair"
)

// transitions is the permitted-next-states table (spec §4.5). A
// from-state absent from this map, or a to-state not in its slice, is
// rejected.
var transitions = map[task.Status][]task.Status{
	task.StatusQueued:            {task.StatusAnalyzed, task.StatusAssigned, task.StatusCancelled, task.StatusBlocked},
	task.StatusAnalyzed:          {task.StatusAssigned, task.StatusBlocked, task.StatusCancelled},
	task.StatusAssigned:         {task.StatusPreparing, task.StatusInProgress, task.StatusCancelled, task.StatusBlocked},
	task.StatusPreparing:        {task.StatusInProgress, task.StatusCancelled, task.StatusFailed},
	task.StatusInProgress:       {task.StatusPaused, task.StatusCompleting, task.StatusFailed, task.StatusCancelled},
	task.StatusPaused:           {task.StatusResuming, task.StatusCancelled},
	task.StatusResuming:         {task.StatusInProgress, task.StatusCancelled},
	task.StatusCompleting:       {task.StatusCompleted, task.StatusFailed},
	task.StatusBlocked:          {task.StatusQueued, task.StatusCancelled, task.StatusExpired},
	task.StatusFailed:           {task.StatusRetrying, task.StatusArchived},
	task.StatusRetrying:         {task.StatusQueued},
	task.StatusCompleted:        {task.StatusArchived},
	task.StatusCancelled:        {task.StatusArchived},
}

// Hook observes or vetoes a transition. Before-hook errors abort the
// transition (logged, not applied); during/after-hook errors are logged
// only (spec §4.5).
type Hook func(t *task.Task, from, to task.Status, trigger Trigger) error

// Manager is the only component permitted to mutate Task.Status.
type Manager struct {
	store  *task.Store
	log    zerolog.Logger
	before []Hook
	during []Hook
	after  []Hook
}

// New creates a Manager bound to store. log may be the zero value
// (zerolog.Logger{}), which discards output.
func New(store *task.Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log.With().Str("component", "lifecycle").Logger()}
}

// Before registers a hook run before a transition is applied. Returning
// an error aborts the transition.
func (m *Manager) Before(h Hook) { m.before = append(m.before, h) }

// During registers a hook run as the transition is applied, before
// after-hooks. Errors are logged only.
func (m *Manager) During(h Hook) { m.during = append(m.during, h) }

// After registers a hook run once the transition has been committed.
// Errors are logged only.
func (m *Manager) After(h Hook) { m.after = append(m.after, h) }

// TransitionError reports a rejected transition (spec §7 InvalidTransition).
type TransitionError struct {
	TaskID string
	From   task.Status
	To     task.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: transition %s -> %s is not permitted", e.TaskID, e.From, e.To)
}

// Transition moves taskID from its current status to to, running
// before/during/after hooks in order. Rejects the transition (without
// mutating the task) if to is not in the permitted-next set for the
// task's current status.
func (m *Manager) Transition(taskID string, to task.Status, trigger Trigger, reason string) error {
	current, err := m.store.Get(taskID)
	if err != nil {
		return err
	}
	from := current.Status

	if from == to {
		return nil
	}
	if !m.permitted(from, to) {
		return task.NewError(task.KindInvalidInput, fmt.Sprintf("task %s: %s -> %s rejected", taskID, from, to), &TransitionError{TaskID: taskID, From: from, To: to})
	}

	for _, h := range m.before {
		if err := h(current, from, to, trigger); err != nil {
			m.log.Warn().Err(err).Str("task_id", taskID).Str("from", string(from)).Str("to", string(to)).Msg("before-hook aborted transition")
			return task.NewError(task.KindInvalidInput, "before-hook rejected transition", err)
		}
	}

	updated, err := m.store.Update(taskID, func(t *task.Task) (*task.Task, error) {
		t.Status = to
		t.UpdatedAt = now()
		applyStatusTimestamps(t, to)
		return t, nil
	})
	if err != nil {
		return err
	}

	for _, h := range m.during {
		if err := h(updated, from, to, trigger); err != nil {
			m.log.Warn().Err(err).Str("task_id", taskID).Msg("during-hook error")
		}
	}
	for _, h := range m.after {
		if err := h(updated, from, to, trigger); err != nil {
			m.log.Warn().Err(err).Str("task_id", taskID).Msg("after-hook error")
		}
	}

	m.log.Info().Str("task_id", taskID).Str("from", string(from)).Str("to", string(to)).Str("trigger", string(trigger)).Str("reason", reason).Msg("task transition")
	return nil
}

func (m *Manager) permitted(from, to task.Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func applyStatusTimestamps(t *task.Task, to task.Status) {
	ts := now()
	switch to {
	case task.StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &ts
		}
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		t.CompletedAt = &ts
	}
}

var now = func() time.Time { return time.Now() }
