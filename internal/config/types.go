// Package config loads and persists the scheduler's runtime configuration
// (spec §6), generalizing the teacher's layered JSON-merge
// OrchestratorConfig into the task-engine's key surface.
package config

import "time"

// SchedulingStrategy selects how a task's dynamic-priority recomputation
// weighs its factors (spec §4.3).
type SchedulingStrategy string

const (
	StrategyStatic             SchedulingStrategy = "static"
	StrategyAgeBased           SchedulingStrategy = "ageBased"
	StrategyDeadlineDriven     SchedulingStrategy = "deadlineDriven"
	StrategyDependencyAware    SchedulingStrategy = "dependencyAware"
	StrategyWorkloadAdaptive   SchedulingStrategy = "workloadAdaptive"
	StrategyHybrid             SchedulingStrategy = "hybrid"
)

// SelectionPolicy selects which ready task the Executor pulls next
// (spec §4.3).
type SelectionPolicy string

const (
	SelectionStrictPriority   SelectionPolicy = "strictPriority"
	SelectionWeightedRoundRobin SelectionPolicy = "weightedRoundRobin"
	SelectionFairQueuing      SelectionPolicy = "fairQueuing"
	SelectionClassBased       SelectionPolicy = "classBased"
)

// StarvationMode selects how queued-too-long tasks get boosted
// (spec §4.3).
type StarvationMode string

const (
	StarvationNone          StarvationMode = "none"
	StarvationAging         StarvationMode = "aging"
	StarvationTimeslice     StarvationMode = "timeslice"
	StarvationQuota         StarvationMode = "quota"
	StarvationAdaptive      StarvationMode = "adaptive"
)

// CycleResolutionPolicy selects how the dependency graph reacts to an
// edge that would close a cycle (spec §4.2 "chosen by a configured
// policy"). Mirrors internal/graph.Resolution's closed set; kept as its
// own string type here rather than importing internal/graph so config
// stays a leaf package, the same separation the other enums above use.
type CycleResolutionPolicy string

const (
	CycleResolutionStrict            CycleResolutionPolicy = "strict"
	CycleResolutionBestEffort        CycleResolutionPolicy = "bestEffort"
	CycleResolutionParallelOptimized CycleResolutionPolicy = "parallelOptimized"
)

// Config is the top-level runtime configuration for the task engine
// (spec §6 configuration table). JSON tags match the on-disk layout;
// Viper env overrides use the `TASKFORGE_` prefix with the field name
// upper-cased (e.g. TASKFORGE_MAXCONCURRENTTASKS).
type Config struct {
	MaxConcurrentTasks int `json:"maxConcurrentTasks" mapstructure:"maxConcurrentTasks"`
	DefaultTimeoutMs   int `json:"defaultTimeoutMs" mapstructure:"defaultTimeoutMs"`
	DefaultMaxRetries  int `json:"maxRetries" mapstructure:"maxRetries"`

	SchedulingStrategy SchedulingStrategy `json:"schedulingStrategy" mapstructure:"schedulingStrategy"`
	SelectionPolicy    SelectionPolicy    `json:"selectionPolicy" mapstructure:"selectionPolicy"`

	StarvationMode      StarvationMode `json:"starvationMode" mapstructure:"starvationMode"`
	MaxStarvationTimeMs int            `json:"maxStarvationTimeMs" mapstructure:"maxStarvationTimeMs"`
	MaxPriorityBoost    int            `json:"maxPriorityBoost" mapstructure:"maxPriorityBoost"`
	AdjustmentIntervalMs int           `json:"adjustmentIntervalMs" mapstructure:"adjustmentIntervalMs"`

	CycleResolutionPolicy CycleResolutionPolicy `json:"cycleResolutionPolicy" mapstructure:"cycleResolutionPolicy"`

	EnableAutonomousBreakdown bool    `json:"enableAutonomousBreakdown" mapstructure:"enableAutonomousBreakdown"`
	BreakdownThreshold        float64 `json:"breakdownThreshold" mapstructure:"breakdownThreshold"`
	MaxBreakdownDepth         int     `json:"maxBreakdownDepth" mapstructure:"maxBreakdownDepth"`

	OptimizationIntervalMs   int `json:"optimizationIntervalMs" mapstructure:"optimizationIntervalMs"`
	AdaptiveParameterTuningMs int `json:"adaptiveParameterTuningMs" mapstructure:"adaptiveParameterTuningMs"`

	AutoSaveIntervalMs int `json:"autoSaveIntervalMs" mapstructure:"autoSaveIntervalMs"`
	MaxBackups         int `json:"maxBackups" mapstructure:"maxBackups"`
	StorageDir         string `json:"storageDir" mapstructure:"storageDir"`

	ResourcePools map[string]int `json:"resourcePools" mapstructure:"resourcePools"`
}

// DefaultTimeout returns DefaultTimeoutMs as a time.Duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// MaxStarvationTime returns MaxStarvationTimeMs as a time.Duration.
func (c *Config) MaxStarvationTime() time.Duration {
	return time.Duration(c.MaxStarvationTimeMs) * time.Millisecond
}

// AdjustmentInterval returns AdjustmentIntervalMs as a time.Duration.
func (c *Config) AdjustmentInterval() time.Duration {
	return time.Duration(c.AdjustmentIntervalMs) * time.Millisecond
}

// OptimizationInterval returns OptimizationIntervalMs as a time.Duration.
func (c *Config) OptimizationInterval() time.Duration {
	return time.Duration(c.OptimizationIntervalMs) * time.Millisecond
}

// AdaptiveParameterTuning returns AdaptiveParameterTuningMs as a
// time.Duration.
func (c *Config) AdaptiveParameterTuning() time.Duration {
	return time.Duration(c.AdaptiveParameterTuningMs) * time.Millisecond
}

// AutoSaveInterval returns AutoSaveIntervalMs as a time.Duration.
func (c *Config) AutoSaveInterval() time.Duration {
	return time.Duration(c.AutoSaveIntervalMs) * time.Millisecond
}

// Validate checks the closed-enum fields and numeric ranges the scheduler
// and breakdowner depend on (spec §6/§4.6).
func (c *Config) Validate() error {
	switch c.SchedulingStrategy {
	case StrategyStatic, StrategyAgeBased, StrategyDeadlineDriven, StrategyDependencyAware, StrategyWorkloadAdaptive, StrategyHybrid:
	default:
		return &ValidationError{Field: "schedulingStrategy", Value: string(c.SchedulingStrategy)}
	}
	switch c.SelectionPolicy {
	case SelectionStrictPriority, SelectionWeightedRoundRobin, SelectionFairQueuing, SelectionClassBased:
	default:
		return &ValidationError{Field: "selectionPolicy", Value: string(c.SelectionPolicy)}
	}
	switch c.StarvationMode {
	case StarvationNone, StarvationAging, StarvationTimeslice, StarvationQuota, StarvationAdaptive:
	default:
		return &ValidationError{Field: "starvationMode", Value: string(c.StarvationMode)}
	}
	switch c.CycleResolutionPolicy {
	case CycleResolutionStrict, CycleResolutionBestEffort, CycleResolutionParallelOptimized:
	default:
		return &ValidationError{Field: "cycleResolutionPolicy", Value: string(c.CycleResolutionPolicy)}
	}
	if c.BreakdownThreshold <= 0 || c.BreakdownThreshold > 1 {
		return &ValidationError{Field: "breakdownThreshold", Value: c.BreakdownThreshold}
	}
	if c.MaxConcurrentTasks <= 0 {
		return &ValidationError{Field: "maxConcurrentTasks", Value: c.MaxConcurrentTasks}
	}
	return nil
}

// ValidationError reports an out-of-range or unrecognized config value.
type ValidationError struct {
	Field string
	Value interface{}
}

func (e *ValidationError) Error() string {
	return "config: invalid value for " + e.Field
}
