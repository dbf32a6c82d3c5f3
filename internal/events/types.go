package events

import "time"

// Event is the base interface every published value satisfies.
type Event interface {
	EventType() string
}

// Topics group related event kinds for Subscribe.
const (
	TopicTask      = "task"
	TopicGraph     = "graph"
	TopicAlert     = "alert"
	TopicAdapt     = "adapt"
	TopicBreakdown = "breakdown"
)

// Event type constants (spec §6 "Subscribers see...").
const (
	EventTaskStarted        = "task_started"
	EventTaskCompleted      = "task_completed"
	EventTaskFailed         = "task_failed"
	EventTaskCancelled      = "task_cancelled"
	EventTaskRetrying       = "task_retrying"
	EventTaskProgress       = "task_progress"
	EventTaskBlocked        = "task_blocked"
	EventAlertRaised        = "alert_raised"
	EventAlertResolved      = "alert_resolved"
	EventAdaptationApplied  = "adaptation_applied"
	EventEdgeDropped        = "edge_dropped_to_resolve_cycle"
	EventBreakdownAccepted  = "breakdown_accepted"
	EventBreakdownRejected  = "breakdown_rejected"
)

// TaskStartedEvent is published when a task transitions into in_progress.
type TaskStartedEvent struct {
	TaskID    string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTaskStarted }

// TaskCompletedEvent is published on successful completion.
type TaskCompletedEvent struct {
	TaskID    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTaskCompleted }

// TaskFailedEvent is published when a task exhausts its retries.
type TaskFailedEvent struct {
	TaskID    string
	Err       string
	Attempt   int
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTaskFailed }

// TaskCancelledEvent is published on cancellation (spec §6).
type TaskCancelledEvent struct {
	TaskID    string
	Reason    string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTaskCancelled }

// TaskRetryingEvent is published when a failed attempt is requeued.
type TaskRetryingEvent struct {
	TaskID    string
	Attempt   int
	RetryIn   time.Duration
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTaskRetrying }

// TaskProgressEvent carries a throttled Runner progress callback (spec
// §4.4, at most one per 250ms per task).
type TaskProgressEvent struct {
	TaskID           string
	ProgressPercent  float64
	CurrentOperation string
	Timestamp        time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTaskProgress }

// TaskBlockedEvent is published when a hard dependency's failure or
// cancellation cascades a dependent into blocked.
type TaskBlockedEvent struct {
	TaskID    string
	Reason    string
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTaskBlocked }

// AlertRaisedEvent / AlertResolvedEvent are published by the Monitor
// (spec §4.9).
type AlertRaisedEvent struct {
	Condition string
	Severity  string
	Timestamp time.Time
}

func (e AlertRaisedEvent) EventType() string { return EventAlertRaised }

type AlertResolvedEvent struct {
	Condition string
	Timestamp time.Time
}

func (e AlertResolvedEvent) EventType() string { return EventAlertResolved }

// AdaptationAppliedEvent is published whenever the Optimizer mutates the
// live configuration (spec §4.7, glossary "Adaptation event").
type AdaptationAppliedEvent struct {
	Trigger   string
	Parameter string
	OldValue  string
	NewValue  string
	Timestamp time.Time
}

func (e AdaptationAppliedEvent) EventType() string { return EventAdaptationApplied }

// EdgeDroppedEvent is published when bestEffort/parallelOptimized cycle
// resolution mutates the graph (spec §9 Open Question: "the spec mandates
// an event edge_dropped_to_resolve_cycle").
type EdgeDroppedEvent struct {
	Dependent string
	DependsOn string
	Kind      string
	Cycle     []string
}

func (e EdgeDroppedEvent) EventType() string { return EventEdgeDropped }

// BreakdownAcceptedEvent / BreakdownRejectedEvent are published by the
// Autonomous Breakdowner (spec §4.6).
type BreakdownAcceptedEvent struct {
	TaskID            string
	TrackerTaskID     string
	SubtaskIDs        []string
	ImprovementEstimate float64
	Timestamp         time.Time
}

func (e BreakdownAcceptedEvent) EventType() string { return EventBreakdownAccepted }

type BreakdownRejectedEvent struct {
	TaskID    string
	Reason    string
	Timestamp time.Time
}

func (e BreakdownRejectedEvent) EventType() string { return EventBreakdownRejected }
