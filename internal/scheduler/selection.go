package scheduler

import (
	"sort"
	"time"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/task"
)

// ExpectedOutcome is part of the selection contract (spec §4.3).
type ExpectedOutcome struct {
	EstimatedTotalDuration time.Duration
	ResourceUtilization    float64
	ParallelismFactor      float64
	Risk                   task.RiskLevel
}

// Decision is the result of Select (spec §4.3 "Selection contract").
type Decision struct {
	Selected    []*task.Task
	Reasoning   []string
	Outcome     ExpectedOutcome
	Alternatives []*task.Task
}

// Scheduler computes dynamic priorities and selects the next runnable
// subset from a graph's ready set.
type Scheduler struct {
	g       *graph.Graph
	cfg     *config.Config
	weights Weights
}

// New creates a Scheduler bound to g and cfg.
func New(g *graph.Graph, cfg *config.Config) *Scheduler {
	return &Scheduler{g: g, cfg: cfg, weights: DefaultWeights()}
}

// SetWeights replaces the dynamic-priority factor weights (called by the
// Optimizer, spec §4.7).
func (s *Scheduler) SetWeights(w Weights) { s.weights = w }

// Recompute scores every ready/blocked-but-pending task's dynamic
// priority and persists it via store.Update (called on the
// adjustmentInterval tick, spec §4.3).
func (s *Scheduler) Recompute(store *task.Store, ctx Context) {
	analysis := s.g.Analyze()
	dependents := dependentsCounts(analysis)
	ctx.DependentsCount = mergeDependentsCounts(ctx.DependentsCount, dependents)

	for _, t := range store.List(task.Filter{}) {
		if t.Status.Terminal() {
			continue
		}
		score := Recompute(t, s.cfg.SchedulingStrategy, s.weights, s.cfg, ctx)
		_, _ = store.Update(t.ID, func(tk *task.Task) (*task.Task, error) {
			tk.DynamicPriority = score
			return tk, nil
		})
	}
}

func dependentsCounts(analysis graph.Analysis) map[string]int {
	counts := make(map[string]int)
	for _, ids := range analysis.Levels {
		for _, id := range ids {
			counts[id] = counts[id]
		}
	}
	return counts
}

func mergeDependentsCounts(base, extra map[string]int) map[string]int {
	if base == nil {
		base = make(map[string]int)
	}
	for k, v := range extra {
		if _, ok := base[k]; !ok {
			base[k] = v
		}
	}
	return base
}

// Select implements the spec §4.3 selection contract: given the ready
// set and a slot count, returns at most slotCount tasks honoring the
// configured SelectionPolicy, with no two selected tasks sharing a
// resource-pool conflict.
func (s *Scheduler) Select(ready []*task.Task, slotCount int, ctx Context) Decision {
	if slotCount <= 0 || len(ready) == 0 {
		return Decision{Reasoning: []string{"no ready tasks or no free slots"}}
	}

	analysis := s.g.Analyze()
	lvl := levelOf(analysis)
	ordered := append([]*task.Task(nil), ready...)
	sort.Slice(ordered, func(i, j int) bool {
		return graph.TieBreakLess(ordered[i], ordered[j], lvl, ctx.Now)
	})

	var candidates []*task.Task
	switch s.cfg.SelectionPolicy {
	case config.SelectionWeightedRoundRobin:
		candidates = s.weightedRoundRobin(ordered)
	case config.SelectionFairQueuing:
		candidates = s.fairQueuing(ordered, ctx)
	case config.SelectionClassBased:
		candidates = s.classBased(ordered)
	case config.SelectionStrictPriority:
		fallthrough
	default:
		candidates = ordered
	}

	selected := make([]*task.Task, 0, slotCount)
	resourceUsage := make(map[string]int)
	var alternatives []*task.Task
	var reasoning []string

	for _, t := range candidates {
		if len(selected) >= slotCount {
			alternatives = append(alternatives, t)
			continue
		}
		if conflictsWithSelected(t, resourceUsage, s.cfg.ResourcePools) {
			alternatives = append(alternatives, t)
			continue
		}
		selected = append(selected, t)
		for _, r := range t.RequiredResources {
			resourceUsage[r]++
		}
		reasoning = append(reasoning, reasonFor(t, s.cfg.SelectionPolicy))
	}

	outcome := estimateOutcome(selected, slotCount)
	return Decision{Selected: selected, Reasoning: reasoning, Outcome: outcome, Alternatives: alternatives}
}

// conflictsWithSelected reports whether adding t would push any required
// resource pool past its configured capacity (spec §5: "exceeding a
// count is prevented at selection time, not at runtime"). A pool absent
// from cfg.ResourcePools defaults to capacity 1 (exclusive use, matching
// the teacher's per-file ResourceLockManager).
func conflictsWithSelected(t *task.Task, usage map[string]int, pools map[string]int) bool {
	for _, r := range t.RequiredResources {
		capacity := 1
		if c, ok := pools[r]; ok {
			capacity = c
		}
		if usage[r] >= capacity {
			return true
		}
	}
	return false
}

func reasonFor(t *task.Task, policy config.SelectionPolicy) string {
	return string(policy) + ": selected " + t.ID + " (dynamicPriority=" + itoa(t.DynamicPriority) + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// weightedRoundRobin draws from each BasePriority bucket proportional to
// its weight, popping each bucket's ordered head (spec §4.3).
func (s *Scheduler) weightedRoundRobin(ordered []*task.Task) []*task.Task {
	buckets := map[task.Priority][]*task.Task{}
	order := []task.Priority{
		task.PriorityCritical, task.PriorityHigh, task.PriorityNormal,
		task.PriorityMedium, task.PriorityLow, task.PriorityBackground,
	}
	for _, t := range ordered {
		buckets[t.BasePriority] = append(buckets[t.BasePriority], t)
	}

	var out []*task.Task
	for len(out) < len(ordered) {
		progressed := false
		for _, p := range order {
			weight := p.Weight() / 100
			if weight < 1 {
				weight = 1
			}
			for i := 0; i < weight && len(buckets[p]) > 0; i++ {
				out = append(out, buckets[p][0])
				buckets[p] = buckets[p][1:]
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// fairQueuing prioritizes the bucket (by category) with the largest
// average wait time (spec §4.3).
func (s *Scheduler) fairQueuing(ordered []*task.Task, ctx Context) []*task.Task {
	avgWait := map[task.Category]time.Duration{}
	count := map[task.Category]int{}
	for _, t := range ordered {
		avgWait[t.Category] += ctx.Now.Sub(t.CreatedAt)
		count[t.Category]++
	}
	for cat, total := range avgWait {
		avgWait[cat] = total / time.Duration(maxInt(count[cat], 1))
	}

	out := append([]*task.Task(nil), ordered...)
	sort.SliceStable(out, func(i, j int) bool {
		return avgWait[out[i].Category] > avgWait[out[j].Category]
	})
	return out
}

// classBased groups by category and round-robins across them (spec
// §4.3): each pass takes the head of every non-empty category, in
// category-name order, until all categories are drained. Within a
// category, tasks keep their tie-break order.
func (s *Scheduler) classBased(ordered []*task.Task) []*task.Task {
	byCategory := map[task.Category][]*task.Task{}
	var categories []task.Category
	for _, t := range ordered {
		if _, ok := byCategory[t.Category]; !ok {
			categories = append(categories, t.Category)
		}
		byCategory[t.Category] = append(byCategory[t.Category], t)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var out []*task.Task
	for {
		progressed := false
		for _, c := range categories {
			if len(byCategory[c]) > 0 {
				out = append(out, byCategory[c][0])
				byCategory[c] = byCategory[c][1:]
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func estimateOutcome(selected []*task.Task, slotCount int) ExpectedOutcome {
	var total time.Duration
	resourceSet := make(map[string]struct{})
	for _, t := range selected {
		total += t.EstimatedDuration
		for _, r := range t.RequiredResources {
			resourceSet[r] = struct{}{}
		}
	}
	parallelism := float64(len(selected))
	utilization := 0.0
	if slotCount > 0 {
		utilization = float64(len(selected)) / float64(slotCount)
	}
	risk := task.RiskLow
	switch {
	case utilization >= 0.9:
		risk = task.RiskHigh
	case utilization >= 0.6:
		risk = task.RiskMedium
	}
	return ExpectedOutcome{
		EstimatedTotalDuration: total,
		ResourceUtilization:    utilization,
		ParallelismFactor:      parallelism,
		Risk:                   risk,
	}
}
