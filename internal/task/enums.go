package task

// Status is the closed set of lifecycle states a task can occupy (spec §4.5).
// It unifies what the source material split across two parallel enums into
// a single string-backed type shared by every component.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusAnalyzed           Status = "analyzed"
	StatusAssigned           Status = "assigned"
	StatusPreparing          Status = "preparing"
	StatusResourceAllocated  Status = "resource_allocated"
	StatusStarting           Status = "starting"
	StatusInProgress         Status = "in_progress"
	StatusPaused             Status = "paused"
	StatusResuming           Status = "resuming"
	StatusCompleting         Status = "completing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
	StatusRetrying           Status = "retrying"
	StatusRollingBack        Status = "rolling_back"
	StatusBlocked            Status = "blocked"
	StatusExpired            Status = "expired"
	StatusArchived           Status = "archived"
)

// Terminal reports whether the status is one from which no further
// transitions (other than archival) occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusArchived, StatusExpired:
		return true
	default:
		return false
	}
}

// Priority is the closed, ordered base-priority set (spec §3), mapped to
// an integer weight used by the scheduler's dynamic-priority formula.
type Priority string

const (
	PriorityBackground Priority = "background"
	PriorityLow        Priority = "low"
	PriorityMedium     Priority = "medium"
	PriorityNormal     Priority = "normal"
	PriorityHigh       Priority = "high"
	PriorityCritical   Priority = "critical"
)

// priorityWeights is the base-priority -> integer-weight mapping used as
// the "Base" contribution to dynamic priority (spec §4.3).
var priorityWeights = map[Priority]int{
	PriorityBackground: 10,
	PriorityLow:        50,
	PriorityMedium:     100,
	PriorityNormal:     200,
	PriorityHigh:       400,
	PriorityCritical:   800,
}

// Weight returns the base integer weight for this priority, defaulting to
// PriorityNormal's weight for an unrecognized value.
func (p Priority) Weight() int {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}

// Valid reports whether p is one of the closed set of priorities.
func (p Priority) Valid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// ComplexityLevel is the closed set of complexity tiers (spec §3), also
// consulted by the Breakdowner (spec §4.6) against breakdownThreshold.
type ComplexityLevel string

const (
	ComplexityTrivial    ComplexityLevel = "trivial"
	ComplexitySimple     ComplexityLevel = "simple"
	ComplexityModerate   ComplexityLevel = "moderate"
	ComplexityComplex    ComplexityLevel = "complex"
	ComplexityEnterprise ComplexityLevel = "enterprise"
)

// complexityScores gives each level a normalized score in (0,1], compared
// against the configured breakdownThreshold.
var complexityScores = map[ComplexityLevel]float64{
	ComplexityTrivial:    0.1,
	ComplexitySimple:     0.3,
	ComplexityModerate:   0.55,
	ComplexityComplex:    0.8,
	ComplexityEnterprise: 1.0,
}

// Score returns the normalized complexity score for this level.
func (c ComplexityLevel) Score() float64 {
	if s, ok := complexityScores[c]; ok {
		return s
	}
	return complexityScores[ComplexityModerate]
}

// Category is the closed tag set a task is classified under (spec §3).
// Type mirrors Category for dispatch purposes; the reimplementation keeps
// them as distinct fields (a task's dispatch Type can diverge from its
// reporting Category, e.g. a "feature" task of type "deployment" during
// rollout) but validates both against the same closed set.
type Category string

const (
	CategoryFeature     Category = "feature"
	CategoryBugFix      Category = "bug-fix"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryDocs        Category = "docs"
	CategoryRefactor    Category = "refactor"
	CategoryTest        Category = "test"
	CategoryAnalysis    Category = "analysis"
	CategoryDeployment  Category = "deployment"
)

var validCategories = map[Category]bool{
	CategoryFeature: true, CategoryBugFix: true, CategorySecurity: true,
	CategoryPerformance: true, CategoryDocs: true, CategoryRefactor: true,
	CategoryTest: true, CategoryAnalysis: true, CategoryDeployment: true,
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool { return validCategories[c] }

// EdgeKind classifies a dependency edge (spec §3, §4.2).
type EdgeKind string

const (
	EdgeHard       EdgeKind = "hard"
	EdgeSoft       EdgeKind = "soft"
	EdgeResource   EdgeKind = "resource"
	EdgeData       EdgeKind = "data"
	EdgeValidation EdgeKind = "validation"
)

// Blocks reports whether an edge of this kind blocks scheduling of its
// dependent (spec §3: "only hard|data block scheduling").
func (k EdgeKind) Blocks() bool {
	return k == EdgeHard || k == EdgeData
}

func (k EdgeKind) String() string { return string(k) }

func (s Status) String() string { return string(s) }

func (p Priority) String() string { return string(p) }

// RiskLevel is returned in a Scheduler selection's expected-outcome record.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)
