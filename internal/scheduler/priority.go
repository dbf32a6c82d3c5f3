// Package scheduler computes dynamic task priority and selects the next
// runnable subset from the ready set (spec §4.3, component C3). It holds
// no execution logic — internal/executor drives what this package
// selects.
package scheduler

import (
	"math"
	"time"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/task"
)

// Weights tunes the dynamic-priority factor contributions (spec §4.3
// table). The Optimizer (C7) adjusts these at runtime.
type Weights struct {
	AgeWeight        float64
	DeadlineWeight   float64
	DependencyWeight float64
	SystemWeight     float64
}

// DefaultWeights returns the engine's starting factor weights.
func DefaultWeights() Weights {
	return Weights{AgeWeight: 0.15, DeadlineWeight: 0.5, DependencyWeight: 1.0, SystemWeight: 1.0}
}

const (
	minDynamicPriority = 1
	maxDynamicPriority = 2000
)

// Context carries the information a priority computation or selection
// needs beyond a task's own fields (spec §4.3 "execution context").
type Context struct {
	Now              time.Time
	DependentsCount  map[string]int
	SystemCriticality map[string]float64 // taskID -> per-task factor, default 1.0
	QueueDepth       int
	AverageWaitTime  time.Duration
	ActiveTasks      int
	Capacity         int
}

// Recompute returns tid's dynamic priority under strategy, combining the
// spec §4.3 factor table. Starvation boost (once earned) is additive and
// sticky: callers must persist it back onto the task via the caller's
// own store.Update, as this function is a pure calculation.
func Recompute(t *task.Task, strategy config.SchedulingStrategy, weights Weights, cfg *config.Config, ctx Context) int {
	base := float64(t.BasePriority.Weight())

	switch strategy {
	case config.StrategyStatic:
		return clamp(int(base))
	case config.StrategyAgeBased:
		return clamp(int(base * ageFactor(t, ctx.Now, weights)))
	case config.StrategyDeadlineDriven:
		return clamp(int(base * deadlineFactor(t, ctx.Now, weights) * deadlineFactor(t, ctx.Now, weights)))
	case config.StrategyDependencyAware:
		return clamp(int(base * dependentsFactor(t, ctx, weights)))
	case config.StrategyWorkloadAdaptive:
		return clamp(int(base * workloadFactor(ctx)))
	case config.StrategyHybrid:
		fallthrough
	default:
		score := base *
			ageFactor(t, ctx.Now, weights) *
			deadlineFactor(t, ctx.Now, weights) *
			dependentsFactor(t, ctx, weights) *
			systemCriticalityFactor(t, ctx, weights)
		score += float64(t.StarvationBoost)
		return clamp(int(score))
	}
}

func ageFactor(t *task.Task, now time.Time, w Weights) float64 {
	ageHours := now.Sub(t.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return 1 + w.AgeWeight*math.Min(2, ageHours/24)
}

func deadlineFactor(t *task.Task, now time.Time, w Weights) float64 {
	if t.Deadline == nil {
		return 1
	}
	remaining := t.Deadline.Sub(now)
	if remaining <= 0 {
		return 2
	}
	const oneWeek = 7 * 24 * time.Hour
	urgency := 1 - float64(remaining)/float64(oneWeek)
	if urgency < 0 {
		urgency = 0
	}
	return 1 + w.DeadlineWeight*urgency
}

func dependentsFactor(t *task.Task, ctx Context, w Weights) float64 {
	count := ctx.DependentsCount[t.ID]
	if count == 0 {
		count = len(t.DependentIDs)
	}
	return 1 + w.DependencyWeight*float64(count)*0.1
}

func systemCriticalityFactor(t *task.Task, ctx Context, w Weights) float64 {
	factor := 1.0
	if ctx.SystemCriticality != nil {
		if f, ok := ctx.SystemCriticality[t.ID]; ok {
			factor = f
		}
	}
	return factor * w.SystemWeight
}

func workloadFactor(ctx Context) float64 {
	load := 1.0
	if ctx.Capacity > 0 {
		load += float64(ctx.ActiveTasks) / float64(ctx.Capacity)
	}
	load += float64(ctx.QueueDepth) * 0.01
	load += ctx.AverageWaitTime.Seconds() / 3600
	return load
}

func clamp(v int) int {
	if v < minDynamicPriority {
		return minDynamicPriority
	}
	if v > maxDynamicPriority {
		return maxDynamicPriority
	}
	return v
}

// levelOf builds a taskID -> topological level map from an Analysis,
// used by TieBreak-based sorts throughout this package.
func levelOf(analysis graph.Analysis) map[string]int {
	out := make(map[string]int)
	for lvl, ids := range analysis.Levels {
		for _, id := range ids {
			out[id] = lvl
		}
	}
	return out
}
