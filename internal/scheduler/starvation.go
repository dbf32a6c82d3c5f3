package scheduler

import (
	"time"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/task"
)

// ApplyStarvation applies the configured StarvationMode to every
// non-terminal task in store, stacking on top of whatever dynamic
// priority Recompute already assigned (spec §4.3: starvation prevention
// is "independent, stacked on top").
func ApplyStarvation(store *task.Store, cfg *config.Config, now time.Time) {
	switch cfg.StarvationMode {
	case config.StarvationNone:
		return
	case config.StarvationAging:
		applyAging(store, cfg, now)
	case config.StarvationTimeslice:
		applyTimeslice(store, cfg, now)
	case config.StarvationQuota:
		applyQuota(store, cfg, now)
	case config.StarvationAdaptive:
		fallthrough
	default:
		applyAdaptiveBoost(store, cfg, now)
	}
}

// applyAging grants every task a small priority bump proportional to its
// age every tick, independent of the hard maxStarvationTime threshold.
func applyAging(store *task.Store, cfg *config.Config, now time.Time) {
	for _, t := range store.List(task.Filter{}) {
		if t.Status.Terminal() {
			continue
		}
		ageMinutes := int(now.Sub(t.CreatedAt).Minutes())
		boost := minInt(ageMinutes/5, cfg.MaxPriorityBoost)
		setBoostIfGreater(store, t.ID, boost)
	}
}

// applyTimeslice caps how long a single task can dominate selection by
// forcing a periodic re-sort: it boosts tasks that have waited more than
// one adjustment interval without being scheduled.
func applyTimeslice(store *task.Store, cfg *config.Config, now time.Time) {
	slice := cfg.AdjustmentInterval()
	if slice <= 0 {
		slice = 30 * time.Second
	}
	for _, t := range store.List(task.Filter{Statuses: []task.Status{task.StatusQueued, task.StatusBlocked}}) {
		waited := now.Sub(t.CreatedAt)
		if waited <= slice {
			continue
		}
		slices := int(waited / slice)
		boost := minInt(slices*5, cfg.MaxPriorityBoost)
		setBoostIfGreater(store, t.ID, boost)
	}
}

// applyQuota guarantees every BasePriority bucket gets a minimum share
// of boost over time so a flood of critical tasks cannot starve
// background work indefinitely.
func applyQuota(store *task.Store, cfg *config.Config, now time.Time) {
	byBucket := map[task.Priority][]*task.Task{}
	for _, t := range store.List(task.Filter{Statuses: []task.Status{task.StatusQueued, task.StatusBlocked}}) {
		byBucket[t.BasePriority] = append(byBucket[t.BasePriority], t)
	}
	for priority, tasks := range byBucket {
		if priority == task.PriorityCritical {
			continue // never needs a quota boost
		}
		for _, t := range tasks {
			age := now.Sub(t.CreatedAt)
			if age <= cfg.MaxStarvationTime() {
				continue
			}
			setBoostIfGreater(store, t.ID, cfg.MaxPriorityBoost/2)
		}
	}
}

// applyAdaptiveBoost is the default mode (spec §4.3): once a task's age
// exceeds maxStarvationTime it becomes "starving" and earns a linear
// boost that is sticky until it runs.
func applyAdaptiveBoost(store *task.Store, cfg *config.Config, now time.Time) {
	maxStarvation := cfg.MaxStarvationTime()
	if maxStarvation <= 0 {
		return
	}
	for _, t := range store.List(task.Filter{}) {
		if t.Status.Terminal() {
			continue
		}
		age := now.Sub(t.CreatedAt)
		if age <= maxStarvation {
			continue
		}
		overage := age - maxStarvation
		boost := minInt(1+int(overage.Minutes()), cfg.MaxPriorityBoost)
		setBoostIfGreater(store, t.ID, boost)
	}
}

func setBoostIfGreater(store *task.Store, id string, boost int) {
	_, _ = store.Update(id, func(t *task.Task) (*task.Task, error) {
		if boost > t.StarvationBoost {
			t.StarvationBoost = boost
		}
		return t, nil
	})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
