// Package persistence durably snapshots the engine's in-memory state —
// tasks, dependency edges, execution history, and tuning state — to disk
// and restores it on restart (spec §4.8, component C8).
package persistence

import (
	"time"

	"github.com/taskforge/engine/internal/monitor"
	"github.com/taskforge/engine/internal/scheduler"
	"github.com/taskforge/engine/internal/task"
)

// CurrentSchemaVersion is bumped whenever Snapshot's on-disk shape
// changes in a way Load must branch on.
const CurrentSchemaVersion = 1

// Snapshot is the full persisted state written to storageDir/queue-state.json
// (spec §4.8 / §6 "Persisted layout").
type Snapshot struct {
	SchemaVersion int       `json:"schemaVersion"`
	SessionID     string    `json:"sessionId"`
	Timestamp     time.Time `json:"timestamp"`

	Tasks            []*task.Task            `json:"tasks"`
	Edges            []task.Edge             `json:"edges"`
	CompletedRecords []task.ExecutionRecord   `json:"completedRecords"`
	Metrics          monitor.Snapshot         `json:"metrics"`
	SchedulerWeights scheduler.Weights        `json:"schedulerWeights"`
}
