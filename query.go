package engine

import "github.com/taskforge/engine/internal/task"

// Get returns a snapshot of the task with the given id (spec §6
// get(taskId) -> taskView). The returned Task is a clone; mutating it has
// no effect on the engine.
func (e *Engine) Get(taskID string) (*task.Task, error) {
	return e.store.Get(taskID)
}

// List returns every task matching filter (spec §6 list(filter) ->
// taskView[]). An empty filter matches everything.
func (e *Engine) List(filter task.Filter) []*task.Task {
	return e.store.List(filter)
}

// History returns the execution attempts recorded so far for taskID
// (spec §3 ExecutionRecord), from the in-memory Pool.
func (e *Engine) History(taskID string) []task.ExecutionRecord {
	return e.pool.History(taskID)
}

// ArchivedHistory returns every execution attempt durably archived for
// taskID, including attempts from prior engine sessions that the
// in-memory Pool no longer holds. It returns an empty slice (not an
// error) if the execution-history archive failed to open at startup.
func (e *Engine) ArchivedHistory(taskID string) ([]task.ExecutionRecord, error) {
	if e.archive == nil {
		return nil, nil
	}
	return e.archive.ForTask(taskID)
}
