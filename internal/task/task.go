package task

import (
	"encoding/json"
	"time"
)

// Task is a unit of work managed by the scheduler (spec §3). It is stored
// by id in the Store; its position in the dependency graph lives in
// internal/graph, not inside the struct, keeping lifetime decoupled from
// topology (spec §9 "cyclic graphs & shared references").
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Category Category `json:"category"`
	Type     Category `json:"type"`

	Complexity    ComplexityLevel `json:"complexity"`
	BasePriority  Priority        `json:"basePriority"`
	DynamicPriority int           `json:"dynamicPriority"`

	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	RetryCount        int           `json:"retryCount"`
	MaxRetries        int           `json:"maxRetries"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	LastError         string        `json:"lastError,omitempty"`

	RequiredResources []string `json:"requiredResources,omitempty"`
	BatchGroup        string   `json:"batchGroup,omitempty"`
	ParentTaskID      string   `json:"parentTaskId,omitempty"`
	SubtaskIDs        []string `json:"subtaskIds,omitempty"`

	// DependencyIDs is authoritative set-membership (submitted by the
	// caller / Breakdowner); DependentIDs is a derived inverse-index
	// cache maintained by internal/graph (invariant I2).
	DependencyIDs []string `json:"dependencyIds,omitempty"`
	DependentIDs  []string `json:"dependentIds,omitempty"`

	// RunnerName is a stable reference into the Runner Registry
	// (spec §4.8); the opaque execution Payload travels alongside it and
	// is JSON-serialisable so it survives a snapshot round-trip.
	RunnerName string          `json:"runnerName,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	ExpectedOutputs map[string]string `json:"expectedOutputs,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// StarvationBoost is the additive boost accumulated by the scheduler's
	// adaptiveBoost starvation policy; it persists across adjustment
	// cycles until the task runs or is cancelled (spec §4.3).
	StarvationBoost int `json:"starvationBoost,omitempty"`
}

// Clone returns a deep-enough copy of t: all slice and map fields are
// copied so callers cannot mutate Store-owned state through a returned
// Task. Mirrors the teacher's cloneTask helper, generalized to every
// slice/map field this Task carries.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.RequiredResources = cloneStrings(t.RequiredResources)
	cp.SubtaskIDs = cloneStrings(t.SubtaskIDs)
	cp.DependencyIDs = cloneStrings(t.DependencyIDs)
	cp.DependentIDs = cloneStrings(t.DependentIDs)
	cp.Tags = cloneStrings(t.Tags)
	if t.ExpectedOutputs != nil {
		cp.ExpectedOutputs = make(map[string]string, len(t.ExpectedOutputs))
		for k, v := range t.ExpectedOutputs {
			cp.ExpectedOutputs[k] = v
		}
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	if t.ScheduledAt != nil {
		d := *t.ScheduledAt
		cp.ScheduledAt = &d
	}
	if t.StartedAt != nil {
		d := *t.StartedAt
		cp.StartedAt = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		cp.CompletedAt = &d
	}
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// HasResource reports whether the task requires the named resource pool.
func (t *Task) HasResource(name string) bool {
	for _, r := range t.RequiredResources {
		if r == name {
			return true
		}
	}
	return false
}

// SharesResource reports whether t and other both require at least one
// common resource pool (used by the scheduler's conflict check, spec §4.3).
func (t *Task) SharesResource(other *Task) bool {
	for _, r := range t.RequiredResources {
		if other.HasResource(r) {
			return true
		}
	}
	return false
}

// AgeSince returns how long the task has been waiting as of `now`,
// measured from CreatedAt.
func (t *Task) AgeSince(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Edge is a dependency relationship: Dependent requires DependsOn under
// the given Kind (spec §3). Optional soft/validation edges influence
// ordering without blocking.
type Edge struct {
	Dependent string        `json:"dependent"`
	DependsOn string        `json:"dependsOn"`
	Kind      EdgeKind      `json:"kind"`
	Optional  bool          `json:"optional"`
	MinDelay  time.Duration `json:"minDelay,omitempty"`
}

// ExecutionRecord captures one attempt at running a task (spec §3).
type ExecutionRecord struct {
	TaskID         string            `json:"taskId"`
	Attempt        int               `json:"attempt"`
	StartedAt      time.Time         `json:"startedAt"`
	EndedAt        time.Time         `json:"endedAt"`
	Duration       time.Duration     `json:"duration"`
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
	WorkUnits      int64             `json:"workUnits,omitempty"`
	ChildTaskCount int               `json:"childTaskCount,omitempty"`
}
