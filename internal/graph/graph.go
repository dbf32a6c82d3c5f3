// Package graph stores dependency edges between tasks and answers the
// topology queries the scheduler and executor need: readiness, blocking,
// cycle detection, topological levels, critical path, and parallel
// groupings (spec §4.2, component C2).
//
// The graph never owns task data; it holds (id, id) edges plus derived
// indices recomputable from internal/task.Store, the same decoupled
// shape as the teacher's in-memory adjacency map (spec §9).
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/task"
)

// Resolution selects how AddEdge behaves when a blocking edge would close
// a cycle (spec §4.2).
type Resolution string

const (
	ResolutionStrict            Resolution = "strict"
	ResolutionBestEffort         Resolution = "bestEffort"
	ResolutionParallelOptimized Resolution = "parallelOptimized"
)

// Graph is the dependency graph over tasks held in an internal/task.Store.
type Graph struct {
	mu    sync.RWMutex
	store *task.Store
	bus   *events.Bus // optional; publishes edge_dropped_to_resolve_cycle

	// edgesOut[dependent] holds every edge where Dependent == dependent.
	edgesOut map[string][]task.Edge
	// blockingIn[dependsOn] holds the ids of dependents connected by a
	// blocking edge (hard|data). It is kept in step with edgesOut; the
	// dependents lookup and the Levels in-degree are computed from
	// edgesOut, not from this map.
	blockingIn map[string]map[string]struct{}

	resolution Resolution
}

// New creates a Graph bound to store. bus may be nil to disable
// edge_dropped_to_resolve_cycle notifications.
func New(store *task.Store, bus *events.Bus, resolution Resolution) *Graph {
	if resolution == "" {
		resolution = ResolutionStrict
	}
	return &Graph{
		store:      store,
		bus:        bus,
		edgesOut:   make(map[string][]task.Edge),
		blockingIn: make(map[string]map[string]struct{}),
		resolution: resolution,
	}
}

// CycleError reports the offending cycle detected by AddEdge under
// ResolutionStrict (spec §7 CycleIntroduced).
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle introduced: %v", e.Cycle)
}

// AddEdge validates both endpoints exist (I1) and, for a blocking edge
// that would close a cycle, applies the configured Resolution.
func (g *Graph) AddEdge(e task.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.store.Get(e.Dependent); err != nil {
		return task.Errorf(task.KindInvalidInput, "edge dependent %q does not exist", e.Dependent)
	}
	if _, err := g.store.Get(e.DependsOn); err != nil {
		return task.Errorf(task.KindInvalidInput, "edge dependsOn %q does not exist", e.DependsOn)
	}

	if e.Kind.Blocks() {
		g.addBlockingEdge(e)
		cycle := g.findCycleLocked()
		if cycle != nil {
			switch g.resolution {
			case ResolutionStrict:
				g.removeEdgeLocked(e)
				return task.NewError(task.KindCycleIntroduced, fmt.Sprintf("cycle: %v", cycle), &CycleError{Cycle: cycle})
			case ResolutionBestEffort:
				dropped, ok := g.dropLowestPriorityEdge(cycle)
				if !ok {
					g.removeEdgeLocked(e)
					return task.NewError(task.KindCycleIntroduced, fmt.Sprintf("cycle: %v", cycle), &CycleError{Cycle: cycle})
				}
				g.publishEdgeDropped(dropped, cycle)
			case ResolutionParallelOptimized:
				if !g.downgradeEdgeInCycle(cycle) {
					g.removeEdgeLocked(e)
					return task.NewError(task.KindCycleIntroduced, fmt.Sprintf("cycle: %v", cycle), &CycleError{Cycle: cycle})
				}
			default:
				g.removeEdgeLocked(e)
				return task.NewError(task.KindCycleIntroduced, fmt.Sprintf("cycle: %v", cycle), &CycleError{Cycle: cycle})
			}
		}
	} else {
		g.edgesOut[e.Dependent] = append(g.edgesOut[e.Dependent], e)
	}

	g.refreshDependencyCaches(e.Dependent, e.DependsOn)
	return nil
}

func (g *Graph) addBlockingEdge(e task.Edge) {
	g.edgesOut[e.Dependent] = append(g.edgesOut[e.Dependent], e)
	if g.blockingIn[e.DependsOn] == nil {
		g.blockingIn[e.DependsOn] = make(map[string]struct{})
	}
	g.blockingIn[e.DependsOn][e.Dependent] = struct{}{}
}

// RemoveEdge removes a previously added edge (idempotent: removing a
// missing edge is a no-op).
func (g *Graph) RemoveEdge(e task.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeEdgeLocked(e)
	g.refreshDependencyCaches(e.Dependent, e.DependsOn)
}

func (g *Graph) removeEdgeLocked(e task.Edge) {
	out := g.edgesOut[e.Dependent]
	for i, existing := range out {
		if existing.DependsOn == e.DependsOn && existing.Kind == e.Kind {
			g.edgesOut[e.Dependent] = append(out[:i], out[i+1:]...)
			break
		}
	}
	if set, ok := g.blockingIn[e.DependsOn]; ok {
		delete(set, e.Dependent)
		if len(set) == 0 {
			delete(g.blockingIn, e.DependsOn)
		}
	}
}

// refreshDependencyCaches recomputes and stores the DependencyIDs /
// DependentIDs cache for the two endpoints (invariant I2).
func (g *Graph) refreshDependencyCaches(ids ...string) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g.refreshTaskCache(id)
	}
	// Any node that depends on one of ids, or is depended on, also needs
	// its DependentIDs refreshed.
	for id := range seen {
		for dependent := range g.dependentsOfLocked(id) {
			g.refreshTaskCache(dependent)
		}
	}
}

func (g *Graph) refreshTaskCache(id string) {
	deps := g.dependencyIDsLocked(id)
	dependents := g.dependentIDsLocked(id)
	_, _ = g.store.Update(id, func(t *task.Task) (*task.Task, error) {
		t.DependencyIDs = deps
		t.DependentIDs = dependents
		return t, nil
	})
}

func (g *Graph) dependencyIDsLocked(id string) []string {
	var out []string
	for _, e := range g.edgesOut[id] {
		out = append(out, e.DependsOn)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) dependentIDsLocked(id string) []string {
	set := g.dependentsOfLocked(id)
	out := make([]string, 0, len(set))
	for dependent := range set {
		out = append(out, dependent)
	}
	sort.Strings(out)
	return out
}

// dependentsOfLocked returns every task that has an edge (of any kind)
// pointing to id.
func (g *Graph) dependentsOfLocked(id string) map[string]struct{} {
	set := make(map[string]struct{})
	for dependent, edges := range g.edgesOut {
		for _, e := range edges {
			if e.DependsOn == id {
				set[dependent] = struct{}{}
			}
		}
	}
	return set
}

// Edges returns a copy of the blocking+non-blocking edges for a task.
func (g *Graph) Edges(taskID string) []task.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]task.Edge(nil), g.edgesOut[taskID]...)
}

// AllEdges returns every edge currently held by the graph, in no
// particular order (spec §4.8: a persisted snapshot's "edges" field).
func (g *Graph) AllEdges() []task.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Edge
	for _, edges := range g.edgesOut {
		out = append(out, edges...)
	}
	return out
}

// RestoreEdge re-inserts an edge recovered from a snapshot without
// running cycle resolution: the persisted graph was already validated
// before it was written (spec §4.8 load: "rebuild graph from edges").
// Callers load-with-repair should validate the rebuilt graph afterward
// via Validate and drop any edge that reintroduces a cycle.
func (g *Graph) RestoreEdge(e task.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.Kind.Blocks() {
		g.addBlockingEdge(e)
	} else {
		g.edgesOut[e.Dependent] = append(g.edgesOut[e.Dependent], e)
	}
	g.refreshDependencyCaches(e.Dependent, e.DependsOn)
}

func (g *Graph) publishEdgeDropped(dropped task.Edge, cycle []string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.TopicGraph, events.EdgeDroppedEvent{
		Dependent: dropped.Dependent,
		DependsOn: dropped.DependsOn,
		Kind:      string(dropped.Kind),
		Cycle:     cycle,
	})
}

// Validate runs a toposort-based baseline check: every dependency exists
// and the blocking subgraph is acyclic, mirroring the teacher's
// DAG.Validate(). It returns one valid topological order. Prefer Analyze
// for cycle paths, levels, and critical-path output.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.allTaskIDsLocked()

	var edges []toposort.Edge
	for _, id := range ids {
		hasBlocking := false
		for _, e := range g.edgesOut[id] {
			if e.Kind.Blocks() {
				edges = append(edges, toposort.Edge{e.DependsOn, id})
				hasBlocking = true
			}
		}
		if !hasBlocking {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains a cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if v != nil {
			order = append(order, v.(string))
		}
	}
	if len(order) != len(ids) {
		return nil, fmt.Errorf("topological sort lost %d of %d tasks", len(ids)-len(order), len(ids))
	}
	return order, nil
}

func (g *Graph) allTaskIDsLocked() []string {
	tasks := g.store.List(task.Filter{})
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
