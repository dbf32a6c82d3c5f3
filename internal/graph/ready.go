package graph

import (
	"sort"
	"time"

	"github.com/taskforge/engine/internal/task"
)

// Ready returns pending tasks with no unsatisfied blocking dependency,
// sorted by (topological level asc, dynamic priority desc, deadline
// urgency desc, id asc) — the tie-break order used everywhere in the
// scheduler (spec §4.2).
func (g *Graph) Ready() []*task.Task {
	g.mu.RLock()
	levels := g.levelsLocked()
	g.mu.RUnlock()

	levelOf := make(map[string]int)
	for lvl, ids := range levels {
		for _, id := range ids {
			levelOf[id] = lvl
		}
	}

	var ready []*task.Task
	for _, t := range g.store.List(task.Filter{Statuses: []task.Status{task.StatusQueued, task.StatusBlocked}}) {
		if g.allBlockingResolvedLocked(t) {
			ready = append(ready, t)
		}
	}

	now := time.Now()
	sort.Slice(ready, func(i, j int) bool {
		return TieBreakLess(ready[i], ready[j], levelOf, now)
	})
	return ready
}

// Blocked returns pending tasks that still have an unsatisfied blocking
// dependency.
func (g *Graph) Blocked() []*task.Task {
	var blocked []*task.Task
	for _, t := range g.store.List(task.Filter{Statuses: []task.Status{task.StatusQueued, task.StatusBlocked}}) {
		if !g.allBlockingResolvedLocked(t) {
			blocked = append(blocked, t)
		}
	}
	return blocked
}

func (g *Graph) allBlockingResolvedLocked(t *task.Task) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.edgesOut[t.ID] {
		if !e.Kind.Blocks() {
			continue
		}
		dep, err := g.store.Get(e.DependsOn)
		if err != nil || dep.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// TieBreakLess implements the scheduler-wide ordering used by Ready(),
// selection policies, and starvation-aware reordering (spec §4.2/§4.3).
func TieBreakLess(a, b *task.Task, levelOf map[string]int, now time.Time) bool {
	la, lb := levelOf[a.ID], levelOf[b.ID]
	if la != lb {
		return la < lb
	}
	if a.DynamicPriority != b.DynamicPriority {
		return a.DynamicPriority > b.DynamicPriority
	}
	ua, ub := deadlineUrgency(a, now), deadlineUrgency(b, now)
	if ua != ub {
		return ua > ub
	}
	return a.ID < b.ID
}

func deadlineUrgency(t *task.Task, now time.Time) float64 {
	if t.Deadline == nil {
		return 0
	}
	remaining := t.Deadline.Sub(now)
	if remaining <= 0 {
		return 2
	}
	const week = 7 * 24 * time.Hour
	urgency := 1 - float64(remaining)/float64(week)
	if urgency < 0 {
		urgency = 0
	}
	return urgency
}

// dropLowestPriorityEdge drops the blocking edge in cycle whose endpoints
// have the lowest combined base-priority weight (bestEffort resolution).
func (g *Graph) dropLowestPriorityEdge(cycle []string) (task.Edge, bool) {
	var worst task.Edge
	worstScore := -1
	found := false

	for i := 0; i < len(cycle)-1; i++ {
		from, to := cycle[i], cycle[i+1]
		for _, e := range g.edgesOut[from] {
			if e.DependsOn == to && e.Kind.Blocks() {
				score := g.combinedPriorityWeight(from, to)
				if !found || score < worstScore {
					worst = e
					worstScore = score
					found = true
				}
			}
		}
	}
	if !found {
		return task.Edge{}, false
	}
	g.removeEdgeLocked(worst)
	return worst, true
}

func (g *Graph) combinedPriorityWeight(a, b string) int {
	total := 0
	if t, err := g.store.Get(a); err == nil {
		total += t.BasePriority.Weight()
	}
	if t, err := g.store.Get(b); err == nil {
		total += t.BasePriority.Weight()
	}
	return total
}

// downgradeEdgeInCycle finds a blocking edge within cycle whose endpoints
// share a category and no resource conflict, and downgrades it to a soft
// (non-blocking) edge — the closed-enum equivalent of the source
// material's "enables" relation (parallelOptimized resolution).
func (g *Graph) downgradeEdgeInCycle(cycle []string) bool {
	for i := 0; i < len(cycle)-1; i++ {
		from, to := cycle[i], cycle[i+1]
		for idx, e := range g.edgesOut[from] {
			if e.DependsOn != to || !e.Kind.Blocks() {
				continue
			}
			tFrom, errFrom := g.store.Get(from)
			tTo, errTo := g.store.Get(to)
			if errFrom != nil || errTo != nil {
				continue
			}
			if tFrom.Category == tTo.Category && !tFrom.SharesResource(tTo) {
				downgraded := e
				downgraded.Kind = task.EdgeSoft
				g.edgesOut[from][idx] = downgraded
				if set, ok := g.blockingIn[to]; ok {
					delete(set, from)
				}
				g.publishEdgeDropped(e, cycle)
				return true
			}
		}
	}
	return false
}
