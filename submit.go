package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/engine/internal/task"
)

// DependencySpec names one dependency a submitted task requires (spec §6
// submit() "dependencies (ids)"), generalized to also carry the edge
// kind/optionality/delay the data model supports (spec §3 Edge) rather
// than forcing every submitted dependency to be a hard edge.
type DependencySpec struct {
	TaskID   string
	Kind     task.EdgeKind // defaults to EdgeHard when empty
	Optional bool
	MinDelay time.Duration
}

// TaskSpec is submit()'s input (spec §6): "accepts title, description,
// priority, category, type, expected-outputs, required-resources,
// dependencies (ids), runner-name, and optional complexity/estimated-
// duration. taskSpec may include useAutonomousBreakdown: bool."
type TaskSpec struct {
	ID          string // optional; generated if empty
	Title       string
	Description string

	Priority task.Priority
	Category task.Category
	Type     task.Category

	Complexity        task.ComplexityLevel
	EstimatedDuration time.Duration
	Deadline          *time.Time

	ExpectedOutputs   map[string]string
	RequiredResources []string
	Dependencies      []DependencySpec

	RunnerName string
	Payload    json.RawMessage

	MaxRetries int
	BatchGroup string
	Tags       []string
	Metadata   map[string]string

	UseAutonomousBreakdown bool
	BreakdownStrategy      string // strategy name to evaluate against; "" uses "default"
}

// Submit accepts a TaskSpec, inserts it into the store, wires its
// declared dependencies into the graph, and evaluates it for autonomous
// breakdown (spec §6 submit(), §4.6 "evaluated on put(task)"). It
// returns task.KindDuplicateID if spec.ID collides with an existing task,
// task.KindInvalidInput/KindCycleIntroduced if a dependency edge is
// rejected.
func (e *Engine) Submit(spec TaskSpec) (*task.Task, error) {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	priority := spec.Priority
	if priority == "" {
		priority = task.PriorityNormal
	}
	complexity := spec.Complexity
	if complexity == "" {
		complexity = task.ComplexityModerate
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.cfg.DefaultMaxRetries
	}

	metadata := make(map[string]string, len(spec.Metadata)+1)
	for k, v := range spec.Metadata {
		metadata[k] = v
	}
	if spec.UseAutonomousBreakdown {
		metadata["useAutonomousBreakdown"] = "true"
	}

	now := time.Now()
	t := &task.Task{
		ID:                id,
		Title:             spec.Title,
		Description:       spec.Description,
		Category:          spec.Category,
		Type:              spec.Type,
		Complexity:        complexity,
		BasePriority:      priority,
		Status:            task.StatusQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
		Deadline:          spec.Deadline,
		MaxRetries:        maxRetries,
		EstimatedDuration: spec.EstimatedDuration,
		RequiredResources: spec.RequiredResources,
		BatchGroup:        spec.BatchGroup,
		RunnerName:        spec.RunnerName,
		Payload:           spec.Payload,
		ExpectedOutputs:   spec.ExpectedOutputs,
		Tags:              spec.Tags,
		Metadata:          metadata,
	}

	if err := e.store.Put(t, false); err != nil {
		return nil, err
	}

	for _, dep := range spec.Dependencies {
		kind := dep.Kind
		if kind == "" {
			kind = task.EdgeHard
		}
		edge := task.Edge{Dependent: id, DependsOn: dep.TaskID, Kind: kind, Optional: dep.Optional, MinDelay: dep.MinDelay}
		if err := e.graph.AddEdge(edge); err != nil {
			_ = e.store.Remove(id)
			return nil, err
		}
	}

	inserted, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}

	if _, err := e.breaker.Evaluate(inserted, spec.BreakdownStrategy); err != nil {
		e.log.Warn().Err(err).Str("task_id", id).Msg("breakdown evaluation failed")
	}

	return e.store.Get(id)
}

// Cancel requests cancellation of taskID (spec §6 cancel() "→ bool"):
// true if the task was cancelled or already terminal, false if the task
// does not exist.
func (e *Engine) Cancel(taskID, reason string) bool {
	if err := e.pool.Cancel(taskID, reason); err != nil {
		return false
	}
	return true
}
