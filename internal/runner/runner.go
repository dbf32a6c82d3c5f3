// Package runner defines the abstract execution capability the Executor
// Pool invokes (spec §4.4, §4.8). The engine never knows what a task
// body actually does; it only knows a Runner by the stable name the
// submitter supplied, looked up in a Registry (spec §4.8: "Runner
// payloads are not serialisable directly; they are stored as named
// references into a Runner Registry").
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Result is what a Runner returns on success: the declared output keys
// (validated by the executor against the task's expectedOutputs) plus
// any free-form artifacts to carry into the execution record.
type Result struct {
	Outputs   map[string]string
	Artifacts map[string]string
}

// ProgressFunc is the callback a Runner uses to report progress; the
// Executor throttles these to one update per 250ms per task (spec §4.4).
type ProgressFunc func(progressPercent float64, currentOperation string)

// Context is the execution context handed to a Runner (spec §4.4 step
// 2): the task's opaque payload, its completed dependencies' results,
// a cancellation-aware context, and a progress callback.
type Context struct {
	context.Context
	TaskID             string
	Payload            json.RawMessage
	DependencyResults  map[string]Result
	Progress           ProgressFunc
}

// Runner is the abstract capability a submitter binds a task to by name
// (spec §1 "the executor invokes an abstract Runner capability the
// caller supplies"). Implementations must respect ctx cancellation;
// Runners that do not are forcibly abandoned at maxExecutionTime.
type Runner interface {
	Run(ctx Context) (Result, error)
}

// Func adapts a plain function to the Runner interface, mirroring the
// teacher's BackendFactory function-as-capability pattern.
type Func func(ctx Context) (Result, error)

func (f Func) Run(ctx Context) (Result, error) { return f(ctx) }

// Registry binds Runner implementations to stable names (spec §6
// registerRunner). Missing entries on load or dispatch cause the owning
// task to be marked failed with reason "runner-not-registered" (spec
// §4.8).
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register binds name to runner, replacing any existing binding.
func (r *Registry) Register(name string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = runner
}

// Unregister removes the binding for name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, name)
}

// Get returns the Runner bound to name.
func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[name]
	return rn, ok
}

// ErrNotRegistered is wrapped into a task.Error with KindRunnerMissing
// by the executor when a task names an unbound runner.
var ErrNotRegistered = fmt.Errorf("runner not registered")
