package graph

import (
	"sort"
	"time"

	"github.com/taskforge/engine/internal/task"
)

type color int

const (
	white color = iota
	gray
	black
)

// findCycleLocked runs a DFS over the blocking subgraph with
// white/gray/black coloring, recording the active path; on hitting a gray
// neighbor it returns the cycle slice (spec §4.2 "Cycle detection").
// Callers must hold g.mu.
func (g *Graph) findCycleLocked() []string {
	colors := make(map[string]color)
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, e := range g.edgesOut[id] {
			if !e.Kind.Blocks() {
				continue
			}
			switch colors[e.DependsOn] {
			case white:
				if visit(e.DependsOn) {
					return true
				}
			case gray:
				// Found a back-edge: extract the cycle from path.
				start := indexOf(path, e.DependsOn)
				cycle = append([]string(nil), path[start:]...)
				cycle = append(cycle, e.DependsOn)
				return true
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
		return false
	}

	ids := g.allTaskIDsLocked()
	sort.Strings(ids)
	for _, id := range ids {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(path []string, id string) int {
	for i, v := range path {
		if v == id {
			return i
		}
	}
	return 0
}

// Analysis is the result of Analyze (spec §4.2).
type Analysis struct {
	HasCycles         bool
	Cycles            [][]string
	Levels            map[int][]string
	CriticalPath      []string
	ParallelGroups    [][]string
	EstimatedDuration time.Duration
}

// Analyze computes the full topology report: cycles, topological levels
// (Kahn's algorithm over blocking in-degree), the critical path (longest
// duration path), and greedy parallel groupings per level.
func (g *Graph) Analyze() Analysis {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var cycles [][]string
	if c := g.findCycleLocked(); c != nil {
		cycles = append(cycles, c)
	}

	levels := g.levelsLocked()
	durations := g.durationsLocked()
	criticalPath, totalEstimate := g.criticalPathLocked(levels, durations)
	parallelGroups := g.parallelGroupsLocked(levels)

	return Analysis{
		HasCycles:         len(cycles) > 0,
		Cycles:            cycles,
		Levels:            levels,
		CriticalPath:      criticalPath,
		ParallelGroups:    parallelGroups,
		EstimatedDuration: totalEstimate,
	}
}

// levelsLocked computes topological levels via Kahn's algorithm on the
// blocking-edge in-degree: level 0 is every task with zero blocking
// dependencies; level k+1 becomes ready once all its level<=k
// dependencies have been "removed".
func (g *Graph) levelsLocked() map[int][]string {
	ids := g.allTaskIDsLocked()
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, id := range ids {
		for _, e := range g.edgesOut[id] {
			if e.Kind.Blocks() {
				inDegree[id]++
			}
		}
	}

	levels := make(map[int][]string)
	remaining := inDegree
	assigned := make(map[string]struct{})
	level := 0
	for len(assigned) < len(ids) {
		var frontier []string
		for _, id := range ids {
			if _, done := assigned[id]; done {
				continue
			}
			if remaining[id] == 0 {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			// Remaining nodes are all part of a cycle; Analyze already
			// reports HasCycles — bucket stragglers into the final level
			// so Levels stays total over the task set.
			for _, id := range ids {
				if _, done := assigned[id]; !done {
					frontier = append(frontier, id)
				}
			}
		}
		sort.Strings(frontier)
		levels[level] = frontier
		for _, id := range frontier {
			assigned[id] = struct{}{}
		}
		for _, id := range ids {
			if _, done := assigned[id]; done {
				continue
			}
			for _, e := range g.edgesOut[id] {
				if e.Kind.Blocks() {
					for _, f := range frontier {
						if e.DependsOn == f {
							remaining[id]--
						}
					}
				}
			}
		}
		level++
	}
	return levels
}

func (g *Graph) durationsLocked() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, t := range g.store.List(task.Filter{}) {
		out[t.ID] = t.EstimatedDuration
	}
	return out
}

// criticalPathLocked finds the longest-duration path through the blocking
// DAG using dynamic programming over the topological level order, and
// also returns the sum of each level's max duration (spec §4.2
// estimatedDuration).
func (g *Graph) criticalPathLocked(levels map[int][]string, durations map[string]time.Duration) ([]string, time.Duration) {
	order := flattenLevels(levels)

	dist := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		dist[id] = durations[id]
	}

	// Walk edges in the direction dependsOn -> dependent to propagate the
	// longest path forward.
	for _, id := range order {
		for dependentID, edges := range g.edgesOut {
			for _, e := range edges {
				if !e.Kind.Blocks() || e.DependsOn != id {
					continue
				}
				candidate := dist[id] + durations[dependentID]
				if candidate > dist[dependentID] {
					dist[dependentID] = candidate
					prev[dependentID] = id
				}
			}
		}
	}

	var best string
	var bestDist time.Duration
	for _, id := range order {
		if dist[id] > bestDist || best == "" {
			bestDist = dist[id]
			best = id
		}
	}

	var path []string
	for cur := best; cur != ""; {
		path = append([]string{cur}, path...)
		p, ok := prev[cur]
		if !ok {
			break
		}
		cur = p
	}

	var totalEstimate time.Duration
	for lvl := 0; lvl < len(levels); lvl++ {
		var maxDur time.Duration
		for _, id := range levels[lvl] {
			if durations[id] > maxDur {
				maxDur = durations[id]
			}
		}
		totalEstimate += maxDur
	}

	return path, totalEstimate
}

func flattenLevels(levels map[int][]string) []string {
	var order []string
	for lvl := 0; lvl < len(levels); lvl++ {
		order = append(order, levels[lvl]...)
	}
	return order
}

// parallelGroupsLocked groups same-level tasks greedily: a new group
// starts when a task's required resources intersect the running group's
// union, or an explicit EdgeResource edge connects it to a group member
// (spec §4.2).
func (g *Graph) parallelGroupsLocked(levels map[int][]string) [][]string {
	var groups [][]string

	for lvl := 0; lvl < len(levels); lvl++ {
		ids := levels[lvl]
		taskByID := make(map[string]*task.Task, len(ids))
		for _, id := range ids {
			if t, err := g.store.Get(id); err == nil {
				taskByID[id] = t
			}
		}

		var levelGroups []*levelGroup
		for _, id := range ids {
			t := taskByID[id]
			if t == nil {
				continue
			}
			placed := false
			for _, grp := range levelGroups {
				if grp.conflictsWith(t, g.resourceConflict(id, grp.ids)) {
					continue
				}
				grp.add(t)
				placed = true
				break
			}
			if !placed {
				levelGroups = append(levelGroups, newLevelGroup(t))
			}
		}
		for _, grp := range levelGroups {
			groups = append(groups, grp.ids)
		}
	}
	return groups
}

// resourceConflict reports whether id has an explicit EdgeResource edge
// to any member of group.
func (g *Graph) resourceConflict(id string, group []string) bool {
	memberSet := make(map[string]struct{}, len(group))
	for _, m := range group {
		memberSet[m] = struct{}{}
	}
	for _, e := range g.edgesOut[id] {
		if e.Kind == task.EdgeResource {
			if _, ok := memberSet[e.DependsOn]; ok {
				return true
			}
		}
	}
	for member := range memberSet {
		for _, e := range g.edgesOut[member] {
			if e.Kind == task.EdgeResource && e.DependsOn == id {
				return true
			}
		}
	}
	return false
}

type levelGroup struct {
	ids       []string
	resources map[string]struct{}
}

func newLevelGroup(t *task.Task) *levelGroup {
	g := &levelGroup{resources: make(map[string]struct{})}
	g.add(t)
	return g
}

func (g *levelGroup) add(t *task.Task) {
	g.ids = append(g.ids, t.ID)
	for _, r := range t.RequiredResources {
		g.resources[r] = struct{}{}
	}
}

func (g *levelGroup) conflictsWith(t *task.Task, explicitConflict bool) bool {
	if explicitConflict {
		return true
	}
	for _, r := range t.RequiredResources {
		if _, ok := g.resources[r]; ok {
			return true
		}
	}
	return false
}
