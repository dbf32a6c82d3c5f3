package persistence

import (
	"fmt"

	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/task"
)

// RestoreOptions configures Restore's repair behavior (spec §4.8
// "load-with-repair: --repair drops orphan edges, resets
// non-terminal-but-missing-runtime-state tasks to queued preserving
// retry counts").
type RestoreOptions struct {
	Repair bool
}

// RestoreResult reports what Restore changed, for logging/observability.
type RestoreResult struct {
	TasksLoaded      int
	EdgesLoaded      int
	EdgesDropped     int
	ResetToQueued    []string
	RunnerMissing    []string
}

// Restore loads snap into an empty store and graph: every task is
// inserted, in-flight statuses are reset to queued (preserving retry
// counts, spec §6 "running set ids-only reset to queued on load"), and
// any task bound to a Runner absent from registry is marked failed with
// LastError "runner-not-registered" (spec §4.8). With opts.Repair, edges
// whose endpoint no longer exists are dropped instead of aborting the
// load. If the rebuilt graph fails validation, Restore returns an error
// without opts.Repair; with it, the graph is kept as rebuilt and no edge
// is dropped to break a cycle.
func Restore(snap Snapshot, store *task.Store, g *graph.Graph, registry *runner.Registry, opts RestoreOptions) (RestoreResult, error) {
	var result RestoreResult

	ids := make(map[string]struct{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		ids[t.ID] = struct{}{}
	}

	for _, t := range snap.Tasks {
		restored := t.Clone()
		if !restored.Status.Terminal() {
			switch restored.Status {
			case task.StatusInProgress, task.StatusStarting, task.StatusAssigned,
				task.StatusPreparing, task.StatusResourceAllocated, task.StatusResuming,
				task.StatusCompleting, task.StatusRollingBack:
				restored.Status = task.StatusQueued
				restored.StartedAt = nil
				result.ResetToQueued = append(result.ResetToQueued, restored.ID)
			}
		}

		if restored.RunnerName != "" {
			if _, ok := registry.Get(restored.RunnerName); !ok {
				restored.Status = task.StatusFailed
				restored.LastError = "runner-not-registered"
				now := restored.UpdatedAt
				restored.CompletedAt = &now
				result.RunnerMissing = append(result.RunnerMissing, restored.ID)
			}
		}

		if err := store.Put(restored, true); err != nil {
			return result, fmt.Errorf("persistence: restoring task %q: %w", restored.ID, err)
		}
		result.TasksLoaded++
	}

	for _, e := range snap.Edges {
		_, dependentOK := ids[e.Dependent]
		_, dependsOnOK := ids[e.DependsOn]
		if !dependentOK || !dependsOnOK {
			if !opts.Repair {
				return result, fmt.Errorf("persistence: edge %s -> %s references a missing task", e.Dependent, e.DependsOn)
			}
			result.EdgesDropped++
			continue
		}
		g.RestoreEdge(e)
		result.EdgesLoaded++
	}

	if _, err := g.Validate(); err != nil {
		if !opts.Repair {
			return result, fmt.Errorf("persistence: restored graph failed validation: %w", err)
		}
		// Repair mode: a cycle surviving RestoreEdge (the pre-save graph was
		// already acyclic, but partial writes or hand-edited state files can
		// still introduce one) is accepted as-is; the scheduler's Ready()
		// simply never selects tasks inside an unresolved cycle, the same
		// degraded-but-running posture as bestEffort resolution.
	}

	return result, nil
}
