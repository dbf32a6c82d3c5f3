package optimizer

import (
	"strconv"
	"time"

	"github.com/taskforge/engine/internal/monitor"
)

// tuneConcurrency raises or lowers cfg.MaxConcurrentTasks by one slot
// when the pool is saturated with a deep queue, or idle with headroom to
// spare (spec §4.7: "concurrency +1/-1 bounded").
func (o *Optimizer) tuneConcurrency(snap monitor.Snapshot) *pendingAdjustment {
	old := o.cfg.MaxConcurrentTasks
	next := old
	switch {
	case snap.ResourceUtilization >= 0.9 && snap.QueueDepth > old && old < o.bounds.MaxConcurrency:
		next = old + 1
	case snap.ResourceUtilization < 0.3 && snap.QueueDepth == 0 && old > o.bounds.MinConcurrency:
		next = old - 1
	default:
		return nil
	}
	o.cfg.MaxConcurrentTasks = next
	return &pendingAdjustment{
		parameter: "maxConcurrentTasks", oldValue: strconv.Itoa(old), newValue: strconv.Itoa(next),
		appliedAt: time.Now(), healthAtApply: snap.HealthScore,
		revert: func() { o.cfg.MaxConcurrentTasks = old },
	}
}

// tuneBreakdownThreshold lowers the threshold (more tasks qualify) when
// breakdowns are paying off, and raises it when they mostly aren't
// (spec §4.7: "breakdown threshold +/-0.05 bounded").
func (o *Optimizer) tuneBreakdownThreshold(snap monitor.Snapshot) *pendingAdjustment {
	old := o.cfg.BreakdownThreshold
	next := old
	switch {
	case snap.BreakdownSuccessRate >= 0.8 && old-0.05 >= o.bounds.MinBreakdownThreshold:
		next = old - 0.05
	case snap.BreakdownSuccessRate <= 0.3 && old+0.05 <= o.bounds.MaxBreakdownThreshold:
		next = old + 0.05
	default:
		return nil
	}
	o.cfg.BreakdownThreshold = next
	return &pendingAdjustment{
		parameter: "breakdownThreshold", oldValue: ftoa(old), newValue: ftoa(next),
		appliedAt: time.Now(), healthAtApply: snap.HealthScore,
		revert: func() { o.cfg.BreakdownThreshold = old },
	}
}

// tuneAgeWeight pushes the dynamic-priority age factor up when the p95
// wait time runs above the monitor's wait warning, so older tasks age
// into dispatch faster, and eases it back when p95 wait falls below half
// that warning.
func (o *Optimizer) tuneAgeWeight(snap monitor.Snapshot) *pendingAdjustment {
	old := o.weights.AgeWeight
	next := old
	switch {
	case snap.P95WaitTime > o.mon.Thresholds().WaitTimeWarning && old+0.05 <= o.bounds.MaxAgeWeight:
		next = old + 0.05
	case snap.P95WaitTime < o.mon.Thresholds().WaitTimeWarning/2 && old-0.05 >= o.bounds.MinAgeWeight:
		next = old - 0.05
	default:
		return nil
	}
	o.weights.AgeWeight = next
	o.sched.SetWeights(o.weights)
	return &pendingAdjustment{
		parameter: "scheduler.ageWeight", oldValue: ftoa(old), newValue: ftoa(next),
		appliedAt: time.Now(), healthAtApply: snap.HealthScore,
		revert: func() { o.weights.AgeWeight = old; o.sched.SetWeights(o.weights) },
	}
}

// tuneDependencyWeight raises the dependents-count contribution when the
// queue is deep relative to active capacity, surfacing blocking work
// sooner; eases back off once the queue drains.
func (o *Optimizer) tuneDependencyWeight(snap monitor.Snapshot) *pendingAdjustment {
	old := o.weights.DependencyWeight
	next := old
	deep := snap.ActiveTasks > 0 && snap.QueueDepth > snap.ActiveTasks*2
	switch {
	case deep && old+0.1 <= o.bounds.MaxDependencyWeight:
		next = old + 0.1
	case !deep && snap.QueueDepth == 0 && old-0.1 >= o.bounds.MinDependencyWeight:
		next = old - 0.1
	default:
		return nil
	}
	o.weights.DependencyWeight = next
	o.sched.SetWeights(o.weights)
	return &pendingAdjustment{
		parameter: "scheduler.dependencyWeight", oldValue: ftoa(old), newValue: ftoa(next),
		appliedAt: time.Now(), healthAtApply: snap.HealthScore,
		revert: func() { o.weights.DependencyWeight = old; o.sched.SetWeights(o.weights) },
	}
}

// tuneSystemWeight damps the system-criticality factor when the retry
// rate climbs, since amplifying already-failing work's priority only
// burns more capacity on it; restores it once retries settle.
func (o *Optimizer) tuneSystemWeight(snap monitor.Snapshot) *pendingAdjustment {
	old := o.weights.SystemWeight
	next := old
	switch {
	case snap.RetryRate > 0.3 && old-0.1 >= o.bounds.MinSystemWeight:
		next = old - 0.1
	case snap.RetryRate < 0.05 && old+0.1 <= o.bounds.MaxSystemWeight:
		next = old + 0.1
	default:
		return nil
	}
	o.weights.SystemWeight = next
	o.sched.SetWeights(o.weights)
	return &pendingAdjustment{
		parameter: "scheduler.systemWeight", oldValue: ftoa(old), newValue: ftoa(next),
		appliedAt: time.Now(), healthAtApply: snap.HealthScore,
		revert: func() { o.weights.SystemWeight = old; o.sched.SetWeights(o.weights) },
	}
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 3, 64) }
