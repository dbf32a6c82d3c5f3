package breakdown

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/engine/internal/task"
)

// templateStep is one stage of a category-specific breakdown template
// (spec §4.6: "default heuristic splits by category-specific
// templates"). durationFraction apportions the parent's
// EstimatedDuration across stages; every template's fractions sum to 1,
// so the stages together carry the parent's whole estimate. Durations do
// not enter the improvement estimate, which compares complexity only.
type templateStep struct {
	suffix           string
	category         task.Category
	complexity       task.ComplexityLevel
	durationFraction float64
}

// templates maps a task Category to its breakdown stages. Categories
// absent here fall back to genericTemplate.
var templates = map[task.Category][]templateStep{
	task.CategoryFeature: {
		{"design", task.CategoryFeature, task.ComplexitySimple, 0.2},
		{"implement", task.CategoryFeature, task.ComplexityModerate, 0.55},
		{"test", task.CategoryTest, task.ComplexitySimple, 0.25},
	},
	task.CategoryBugFix: {
		{"reproduce", task.CategoryAnalysis, task.ComplexitySimple, 0.25},
		{"fix", task.CategoryBugFix, task.ComplexityModerate, 0.5},
		{"verify", task.CategoryTest, task.ComplexitySimple, 0.25},
	},
	task.CategorySecurity: {
		{"assess", task.CategoryAnalysis, task.ComplexitySimple, 0.3},
		{"remediate", task.CategorySecurity, task.ComplexityModerate, 0.5},
		{"verify", task.CategoryTest, task.ComplexitySimple, 0.2},
	},
	task.CategoryPerformance: {
		{"profile", task.CategoryAnalysis, task.ComplexitySimple, 0.3},
		{"optimize", task.CategoryPerformance, task.ComplexityModerate, 0.5},
		{"benchmark", task.CategoryTest, task.ComplexitySimple, 0.2},
	},
	task.CategoryRefactor: {
		{"plan", task.CategoryAnalysis, task.ComplexitySimple, 0.2},
		{"restructure", task.CategoryRefactor, task.ComplexityModerate, 0.55},
		{"regression-test", task.CategoryTest, task.ComplexitySimple, 0.25},
	},
	task.CategoryDeployment: {
		{"prepare", task.CategoryAnalysis, task.ComplexitySimple, 0.25},
		{"rollout", task.CategoryDeployment, task.ComplexityModerate, 0.5},
		{"verify", task.CategoryTest, task.ComplexitySimple, 0.25},
	},
}

var genericTemplate = []templateStep{
	{"analyze", task.CategoryAnalysis, task.ComplexitySimple, 0.3},
	{"implement", task.CategoryFeature, task.ComplexityModerate, 0.5},
	{"validate", task.CategoryTest, task.ComplexitySimple, 0.2},
}

// DefaultHeuristic is the Breakdowner always registered as "default"
// (spec §6). It never declines a candidate task outright — the
// improvement-estimate threshold in Engine.Evaluate is what filters out
// tasks too simple to benefit.
type DefaultHeuristic struct{}

// Breakdown implements Breakdowner.
func (DefaultHeuristic) Breakdown(t *task.Task) (Result, bool) {
	steps, ok := templates[t.Category]
	if !ok {
		steps = genericTemplate
	}
	if len(steps) < 2 {
		return Result{}, false
	}

	subtasks := make([]*task.Task, 0, len(steps))
	var subComplexitySum float64
	for _, step := range steps {
		subtasks = append(subtasks, &task.Task{
			ID:                uuid.NewString(),
			Title:             fmt.Sprintf("%s: %s", t.Title, step.suffix),
			Description:       t.Description,
			Category:          step.category,
			Type:              step.category,
			Complexity:        step.complexity,
			BasePriority:      t.BasePriority,
			RunnerName:        t.RunnerName,
			MaxRetries:        t.MaxRetries,
			RequiredResources: t.RequiredResources,
			EstimatedDuration: time.Duration(float64(t.EstimatedDuration) * step.durationFraction),
		})
		subComplexitySum += step.complexity.Score()
	}

	// Sequential chain: each stage hard-depends on the previous one,
	// mirroring the template's ordering.
	edges := make([]task.Edge, 0, len(steps)-1)
	for i := 1; i < len(subtasks); i++ {
		edges = append(edges, task.Edge{
			Dependent: subtasks[i].ID,
			DependsOn: subtasks[i-1].ID,
			Kind:      task.EdgeHard,
		})
	}

	avgSubComplexity := subComplexitySum / float64(len(steps))
	// A breakdown is beneficial when its stages are individually simpler
	// than the monolithic task; the margin becomes the improvement
	// estimate (spec §4.6 interface contract: "ratio >= 1.0").
	improvement := 1.0 + (t.Complexity.Score() - avgSubComplexity)

	return Result{Subtasks: subtasks, Edges: edges, ImprovementEstimate: improvement}, true
}
