// Package breakdown implements the Autonomous Breakdowner (spec §4.6,
// component C6): on submission, a sufficiently complex task is offered to
// a Breakdowner strategy, which may split it into smaller sub-tasks
// wired behind a tracker task standing in the original task's place.
package breakdown

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/task"
)

// TrackerRunnerName is the Runner Registry binding for tracker tasks
// created by a breakdown (spec §4.6: "Runner = no-op, succeeds once
// dependencies complete"). The hard edges from tracker to each sub-task
// guarantee the executor never dispatches it before they finish.
const TrackerRunnerName = "taskforge.breakdown-tracker"

// metaDepthKey stores the recursion depth of a (sub)task in its
// Metadata, since task.Task has no dedicated field for it.
const metaDepthKey = "breakdownDepth"

// metaOptInKey opts a submitted task into evaluation (spec §6 submit()
// "useAutonomousBreakdown" flag); plumbed through Metadata by the engine
// facade rather than adding an API-only field to task.Task.
const metaOptInKey = "useAutonomousBreakdown"

// Result is what a Breakdowner proposes: a set of sub-tasks, the
// dependency edges among them, and an improvement estimate the Engine
// uses to accept or reject the proposal (spec §4.6 interface contract:
// "ratio >= 1.0 to be considered beneficial").
type Result struct {
	Subtasks            []*task.Task
	Edges               []task.Edge
	ImprovementEstimate float64
}

// Breakdowner proposes a Result for t, or ok=false if it declines to
// handle this task at all (distinct from the Engine rejecting a Result
// on improvement-estimate grounds).
type Breakdowner interface {
	Breakdown(t *task.Task) (Result, bool)
}

// HistoryEntry records one evaluation outcome for the Optimizer's
// breakdown-success-rate metric (spec §4.7).
type HistoryEntry struct {
	TaskID              string
	Accepted            bool
	Reason              string
	ImprovementEstimate float64
	Timestamp           time.Time
}

// Engine evaluates the spec §4.6 trigger condition on every submitted
// task and applies an accepted breakdown to the store and graph.
type Engine struct {
	store    *task.Store
	graph    *graph.Graph
	registry *runner.Registry
	bus      *events.Bus
	cfg      *config.Config

	mu           sync.RWMutex
	breakdowners map[string]Breakdowner
	history      []HistoryEntry
}

// New creates an Engine with the default heuristic Breakdowner already
// registered under "default" (spec §6: "the default heuristic is always
// registered"), and binds TrackerRunnerName in registry.
func New(store *task.Store, g *graph.Graph, registry *runner.Registry, bus *events.Bus, cfg *config.Config) *Engine {
	e := &Engine{
		store:        store,
		graph:        g,
		registry:     registry,
		bus:          bus,
		cfg:          cfg,
		breakdowners: make(map[string]Breakdowner),
	}
	e.Register("default", DefaultHeuristic{})
	registry.Register(TrackerRunnerName, runner.Func(func(ctx runner.Context) (runner.Result, error) {
		return runner.Result{}, nil
	}))
	return e
}

// Register binds a named Breakdowner strategy (spec §6 registerBreakdowner).
func (e *Engine) Register(name string, b Breakdowner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakdowners[name] = b
}

// History returns a copy of recorded evaluation outcomes.
func (e *Engine) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]HistoryEntry(nil), e.history...)
}

// depthOf reads the recursion depth tracked in t's Metadata, defaulting
// to 0 for a task that has never been through a breakdown.
func depthOf(t *task.Task) int {
	if t.Metadata == nil {
		return 0
	}
	d, err := strconv.Atoi(t.Metadata[metaDepthKey])
	if err != nil {
		return 0
	}
	return d
}

func optedIn(t *task.Task) bool {
	return t.Metadata != nil && t.Metadata[metaOptInKey] == "true"
}

// Evaluate applies the spec §4.6 trigger condition — complexity at or
// above breakdownThreshold, breakdown enabled globally and for this
// task, and recursion depth within maxBreakdownDepth — and, if it fires,
// asks the named strategy (or "default") for a Result. Call on put(task)
// (spec §4.6 "evaluated on put(task)").
func (e *Engine) Evaluate(t *task.Task, strategyName string) (accepted bool, err error) {
	if !e.cfg.EnableAutonomousBreakdown || !optedIn(t) {
		return false, nil
	}
	if t.Complexity.Score() < e.cfg.BreakdownThreshold {
		return false, nil
	}
	if depthOf(t) >= e.cfg.MaxBreakdownDepth {
		return false, nil
	}

	if strategyName == "" {
		strategyName = "default"
	}
	e.mu.RLock()
	strategy, ok := e.breakdowners[strategyName]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("breakdown: no strategy registered as %q", strategyName)
	}

	result, proposed := strategy.Breakdown(t)
	if !proposed || result.ImprovementEstimate < 1.0 || len(result.Subtasks) == 0 {
		e.reject(t, "not beneficial")
		return false, nil
	}

	if err := e.apply(t, result); err != nil {
		return false, err
	}
	e.accept(t, result)
	return true, nil
}

func (e *Engine) reject(t *task.Task, reason string) {
	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{TaskID: t.ID, Accepted: false, Reason: reason, Timestamp: time.Now()})
	e.mu.Unlock()
	e.bus.Publish(events.TopicBreakdown, events.BreakdownRejectedEvent{
		TaskID: t.ID, Reason: reason, Timestamp: time.Now(),
	})
}

func (e *Engine) accept(t *task.Task, result Result) {
	ids := make([]string, 0, len(result.Subtasks))
	for _, st := range result.Subtasks {
		ids = append(ids, st.ID)
	}
	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{
		TaskID: t.ID, Accepted: true, ImprovementEstimate: result.ImprovementEstimate, Timestamp: time.Now(),
	})
	e.mu.Unlock()
	e.bus.Publish(events.TopicBreakdown, events.BreakdownAcceptedEvent{
		TaskID: t.ID, TrackerTaskID: t.ID, SubtaskIDs: ids,
		ImprovementEstimate: result.ImprovementEstimate, Timestamp: time.Now(),
	})
}

// apply inserts the sub-tasks, wires the proposal's internal edges among
// them, rewrites t in place into a tracker task (spec §4.6: "original
// task replaced by a tracker task"), and wires a hard edge from the
// tracker to every sub-task so it only becomes ready once they all
// complete.
func (e *Engine) apply(t *task.Task, result Result) error {
	depth := depthOf(t) + 1
	for _, st := range result.Subtasks {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.ParentTaskID = t.ID
		st.Status = task.StatusQueued
		if st.Metadata == nil {
			st.Metadata = make(map[string]string)
		}
		st.Metadata[metaDepthKey] = strconv.Itoa(depth)
		if err := e.store.Put(st, false); err != nil {
			return fmt.Errorf("breakdown: inserting sub-task %q: %w", st.ID, err)
		}
	}
	for _, edge := range result.Edges {
		if err := e.graph.AddEdge(edge); err != nil {
			return fmt.Errorf("breakdown: wiring sub-task edge %s->%s: %w", edge.Dependent, edge.DependsOn, err)
		}
	}

	subtaskIDs := make([]string, 0, len(result.Subtasks))
	for _, st := range result.Subtasks {
		subtaskIDs = append(subtaskIDs, st.ID)
	}
	_, err := e.store.Update(t.ID, func(tracker *task.Task) (*task.Task, error) {
		tracker.RunnerName = TrackerRunnerName
		tracker.SubtaskIDs = subtaskIDs
		tracker.Status = task.StatusQueued
		return tracker, nil
	})
	if err != nil {
		return fmt.Errorf("breakdown: rewriting %q into a tracker task: %w", t.ID, err)
	}
	for _, id := range subtaskIDs {
		if err := e.graph.AddEdge(task.Edge{Dependent: t.ID, DependsOn: id, Kind: task.EdgeHard}); err != nil {
			return fmt.Errorf("breakdown: wiring tracker edge to %q: %w", id, err)
		}
	}
	return nil
}
