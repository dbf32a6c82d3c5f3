// Package executor drives ready tasks through a Runner to completion
// (spec §4.4, component C4). It pulls a Decision from the Scheduler,
// runs the selected batch to a barrier, and loops — the same
// wave-then-barrier shape as the teacher's ParallelRunner.Run
// (internal/orchestrator/runner.go), generalized from "git worktrees
// running Claude/Codex/Goose backends" to "resource pools running
// arbitrary Runners".
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/lifecycle"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/scheduler"
	"github.com/taskforge/engine/internal/task"
)

// progressInterval is the minimum spacing between published progress
// events for a single task (spec §4.4).
const progressInterval = 250 * time.Millisecond

// Pool is the executor pool: it owns no task state of its own beyond
// in-flight bookkeeping (cancel funcs, progress throttles, and the
// per-task execution history) and drives every other C-component
// through its public API rather than reaching into their internals.
type Pool struct {
	store   *task.Store
	graph   *graph.Graph
	life    *lifecycle.Manager
	sched   *scheduler.Scheduler
	runners *runner.Registry
	bus     *events.Bus
	cfg     *config.Config
	log     zerolog.Logger

	resources *resourcePools
	breakers  *breakerRegistry

	mu           sync.Mutex
	cancels      map[string]context.CancelFunc
	cancelReason map[string]string
	lastProgress map[string]time.Time

	resultsMu sync.Mutex
	results   map[string]runner.Result

	historyMu sync.Mutex
	history   map[string][]task.ExecutionRecord
}

// New creates a Pool wiring every component it needs to drive tasks to
// completion. log may be the zero value, which discards output.
func New(store *task.Store, g *graph.Graph, life *lifecycle.Manager, sched *scheduler.Scheduler, runners *runner.Registry, bus *events.Bus, cfg *config.Config, log zerolog.Logger) *Pool {
	return &Pool{
		store:   store,
		graph:   g,
		life:    life,
		sched:   sched,
		runners: runners,
		bus:     bus,
		cfg:     cfg,
		log:     log.With().Str("component", "executor").Logger(),

		resources: newResourcePools(cfg.ResourcePools),
		breakers:  newBreakerRegistry(),

		cancels:      make(map[string]context.CancelFunc),
		cancelReason: make(map[string]string),
		lastProgress: make(map[string]time.Time),
		results:      make(map[string]runner.Result),
		history:      make(map[string][]task.ExecutionRecord),
	}
}

// Run drives the graph's ready set to completion, selecting a batch,
// running it to a barrier, and looping until nothing is left ready.
// It returns when ctx is cancelled or the ready set is permanently
// empty (no more runnable work).
func (p *Pool) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready := p.graph.Ready()
		if len(ready) == 0 {
			return nil
		}

		decision := p.sched.Select(ready, p.cfg.MaxConcurrentTasks, scheduler.Context{Now: time.Now()})
		if len(decision.Selected) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(decision.Selected))
		for _, t := range decision.Selected {
			id := t.ID
			g.Go(func() error {
				p.executeTask(gctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// executeTask runs the spec §4.4 per-task protocol: resource
// acquisition, dispatch, the Runner call under a deadline, output
// validation, and the resulting lifecycle transition (completed,
// retrying, failed+cascade, or cancelled).
func (p *Pool) executeTask(ctx context.Context, taskID string) {
	t, err := p.store.Get(taskID)
	if err != nil {
		return
	}

	if err := p.life.Transition(taskID, task.StatusAssigned, lifecycle.TriggerSchedule, "selected by scheduler"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("assign transition rejected")
		return
	}
	if err := p.life.Transition(taskID, task.StatusPreparing, lifecycle.TriggerExecutor, "acquiring resources"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("preparing transition rejected")
		return
	}

	if err := p.acquireResources(ctx, t); err != nil {
		if ctx.Err() != nil {
			p.cancelTask(taskID, "cancelled while waiting for resources")
		} else {
			p.log.Warn().Err(err).Str("task_id", taskID).Msg("resource acquisition failed")
			_ = p.life.Transition(taskID, task.StatusFailed, lifecycle.TriggerExecutor, err.Error())
			p.cascadeBlocked(taskID, "parent task failed")
		}
		return
	}
	defer p.releaseResources(t)

	if err := p.life.Transition(taskID, task.StatusInProgress, lifecycle.TriggerExecutor, "dispatched to runner"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("start transition rejected")
		return
	}
	p.bus.Publish(events.TopicTask, events.TaskStartedEvent{TaskID: taskID, Timestamp: time.Now()})

	attempt := t.RetryCount
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.DefaultTimeout())
	p.setCancel(taskID, cancel)
	defer p.clearCancel(taskID)
	defer cancel()

	startedAt := time.Now()
	result, runErr := p.invoke(runCtx, t)
	if runErr == nil {
		runErr = p.validateOutputs(t, result)
	}
	endedAt := time.Now()
	// Read runCtx.Err() before our own deferred cancel() fires, so an
	// ordinary runner error isn't mistaken for a cancellation.
	wasCancelled := errors.Is(runCtx.Err(), context.Canceled)

	record := task.ExecutionRecord{
		TaskID:    taskID,
		Attempt:   attempt,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(startedAt),
		Success:   runErr == nil,
	}
	if runErr != nil {
		record.Error = runErr.Error()
	} else {
		record.Artifacts = result.Artifacts
	}
	p.appendHistory(taskID, record)

	switch {
	case runErr == nil:
		p.completeTask(taskID, record.Duration, result)
	case wasCancelled:
		p.cancelTask(taskID, p.cancelReasonFor(taskID))
	default:
		p.failTask(taskID, t, attempt, runErr)
	}
}

func (p *Pool) invoke(ctx context.Context, t *task.Task) (runner.Result, error) {
	rn, ok := p.runners.Get(t.RunnerName)
	if !ok {
		return runner.Result{}, task.NewError(task.KindRunnerMissing, fmt.Sprintf("no runner registered for %q", t.RunnerName), nil)
	}

	rc := runner.Context{
		Context:           ctx,
		TaskID:            t.ID,
		Payload:           t.Payload,
		DependencyResults: p.dependencyResults(t),
		Progress:          p.throttledProgress(t.ID),
	}

	cb := p.breakers.get(t.RunnerName)
	raw, err := cb.Execute(func() (interface{}, error) {
		return rn.Run(rc)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return runner.Result{}, task.NewError(task.KindResourceUnavailable, "runner circuit open for "+t.RunnerName, err)
		}
		return runner.Result{}, err
	}
	result, _ := raw.(runner.Result)
	return result, nil
}

func (p *Pool) validateOutputs(t *task.Task, result runner.Result) error {
	for key := range t.ExpectedOutputs {
		if _, ok := result.Outputs[key]; !ok {
			return task.Errorf(task.KindRunnerError, "runner did not produce expected output %q", key)
		}
	}
	return nil
}

func (p *Pool) completeTask(taskID string, duration time.Duration, result runner.Result) {
	if err := p.life.Transition(taskID, task.StatusCompleting, lifecycle.TriggerExecutor, "runner finished"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("completing transition rejected")
		return
	}
	if err := p.life.Transition(taskID, task.StatusCompleted, lifecycle.TriggerExecutor, "output validated"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("completed transition rejected")
		return
	}

	p.resultsMu.Lock()
	p.results[taskID] = result
	p.resultsMu.Unlock()

	p.bus.Publish(events.TopicTask, events.TaskCompletedEvent{TaskID: taskID, Duration: duration, Timestamp: time.Now()})
}

// failTask marks taskID failed and either schedules a retry (spec
// §4.4 retryDelay) or, once retries are exhausted, leaves it terminal
// and cascades hard/data-edge dependents to blocked.
func (p *Pool) failTask(taskID string, t *task.Task, attempt int, cause error) {
	// t.MaxRetries is authoritative: a task that explicitly opts out of
	// retries (maxRetries: 0) must fail terminally on its first attempt.
	// cfg.DefaultMaxRetries only backstops tasks at submission time, not
	// here.
	maxRetries := t.MaxRetries

	if err := p.life.Transition(taskID, task.StatusFailed, lifecycle.TriggerExecutor, cause.Error()); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("failed transition rejected")
		return
	}

	if attempt >= maxRetries {
		_, _ = p.store.Update(taskID, func(tk *task.Task) (*task.Task, error) {
			tk.LastError = cause.Error()
			return tk, nil
		})
		p.bus.Publish(events.TopicTask, events.TaskFailedEvent{TaskID: taskID, Err: cause.Error(), Attempt: attempt, Timestamp: time.Now()})
		p.cascadeBlocked(taskID, "parent task failed")
		return
	}

	delay := retryDelay(attempt)
	if _, err := p.store.Update(taskID, func(tk *task.Task) (*task.Task, error) {
		tk.RetryCount = attempt + 1
		tk.LastError = cause.Error()
		return tk, nil
	}); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("retry count update failed")
		return
	}
	if err := p.life.Transition(taskID, task.StatusRetrying, lifecycle.TriggerRetry, "scheduling retry"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("retrying transition rejected")
		return
	}
	p.bus.Publish(events.TopicTask, events.TaskRetryingEvent{TaskID: taskID, Attempt: attempt + 1, RetryIn: delay, Timestamp: time.Now()})

	go p.requeueAfter(taskID, delay)
}

func (p *Pool) requeueAfter(taskID string, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	<-timer.C

	if err := p.life.Transition(taskID, task.StatusQueued, lifecycle.TriggerRetry, "retry delay elapsed"); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("requeue transition rejected")
		return
	}
	_, _ = p.store.Update(taskID, func(tk *task.Task) (*task.Task, error) {
		tk.StartedAt = nil
		tk.CompletedAt = nil
		return tk, nil
	})
}

func (p *Pool) cancelTask(taskID, reason string) {
	if reason == "" {
		reason = "execution cancelled"
	}
	if err := p.life.Transition(taskID, task.StatusCancelled, lifecycle.TriggerUser, reason); err != nil {
		p.log.Warn().Err(err).Str("task_id", taskID).Msg("cancel transition rejected")
		return
	}
	p.bus.Publish(events.TopicTask, events.TaskCancelledEvent{TaskID: taskID, Reason: reason, Timestamp: time.Now()})
}

// cascadeBlocked walks taskID's dependents and blocks every one
// connected by a hard or data edge (spec §3 "only hard|data block
// scheduling"); soft/resource/validation dependents are left alone.
func (p *Pool) cascadeBlocked(taskID, reason string) {
	t, err := p.store.Get(taskID)
	if err != nil {
		return
	}
	for _, dependentID := range t.DependentIDs {
		dependent, err := p.store.Get(dependentID)
		if err != nil || dependent.Status.Terminal() {
			continue
		}

		blocks := false
		for _, e := range p.graph.Edges(dependentID) {
			if e.DependsOn == taskID && e.Kind.Blocks() {
				blocks = true
				break
			}
		}
		if !blocks {
			continue
		}

		if err := p.life.Transition(dependentID, task.StatusBlocked, lifecycle.TriggerDependency, reason); err != nil {
			p.log.Warn().Err(err).Str("task_id", dependentID).Msg("blocked-cascade transition rejected")
			continue
		}
		p.bus.Publish(events.TopicTask, events.TaskBlockedEvent{TaskID: dependentID, Reason: reason, Timestamp: time.Now()})
	}
}

// Cancel requests cancellation of taskID (spec §6 Core API). An
// in-flight task has its Runner context cancelled, which resolves
// through executeTask's own cancellation path; a non-terminal but not
// yet dispatched task is transitioned directly. Cancelling an already
// terminal task is a no-op.
func (p *Pool) Cancel(taskID, reason string) error {
	p.mu.Lock()
	cancel, inFlight := p.cancels[taskID]
	if inFlight {
		p.cancelReason[taskID] = reason
	}
	p.mu.Unlock()

	if inFlight {
		cancel()
		return nil
	}

	t, err := p.store.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}
	if err := p.life.Transition(taskID, task.StatusCancelled, lifecycle.TriggerUser, reason); err != nil {
		return err
	}
	p.bus.Publish(events.TopicTask, events.TaskCancelledEvent{TaskID: taskID, Reason: reason, Timestamp: time.Now()})
	return nil
}

// History returns the execution attempts recorded for taskID so far
// (spec §3 ExecutionRecord). internal/persistence is responsible for
// durable storage; this in-memory slice is the executor's own
// bookkeeping, not the Task's.
func (p *Pool) History(taskID string) []task.ExecutionRecord {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	return append([]task.ExecutionRecord(nil), p.history[taskID]...)
}

// AllHistory returns every recorded execution attempt across every task
// this Pool has dispatched, flattened and ordered by (task id, attempt)
// for deterministic snapshotting (spec §4.8 "completedRecords").
func (p *Pool) AllHistory() []task.ExecutionRecord {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	ids := make([]string, 0, len(p.history))
	for id := range p.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []task.ExecutionRecord
	for _, id := range ids {
		out = append(out, p.history[id]...)
	}
	return out
}

func (p *Pool) appendHistory(taskID string, rec task.ExecutionRecord) {
	p.historyMu.Lock()
	p.history[taskID] = append(p.history[taskID], rec)
	p.historyMu.Unlock()
}

func (p *Pool) dependencyResults(t *task.Task) map[string]runner.Result {
	if len(t.DependencyIDs) == 0 {
		return nil
	}
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	out := make(map[string]runner.Result, len(t.DependencyIDs))
	for _, dep := range t.DependencyIDs {
		if res, ok := p.results[dep]; ok {
			out[dep] = res
		}
	}
	return out
}

func (p *Pool) throttledProgress(taskID string) runner.ProgressFunc {
	return func(percent float64, operation string) {
		now := time.Now()

		p.mu.Lock()
		last, seen := p.lastProgress[taskID]
		if seen && now.Sub(last) < progressInterval {
			p.mu.Unlock()
			return
		}
		p.lastProgress[taskID] = now
		p.mu.Unlock()

		p.bus.Publish(events.TopicTask, events.TaskProgressEvent{
			TaskID:           taskID,
			ProgressPercent:  percent,
			CurrentOperation: operation,
			Timestamp:        now,
		})
	}
}

func (p *Pool) setCancel(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[taskID] = cancel
	p.mu.Unlock()
}

func (p *Pool) clearCancel(taskID string) {
	p.mu.Lock()
	delete(p.cancels, taskID)
	delete(p.cancelReason, taskID)
	p.mu.Unlock()
}

func (p *Pool) cancelReasonFor(taskID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelReason[taskID]
}

// acquireResources grabs every resource pool taskID requires, in
// sorted order, to avoid the classic lock-ordering deadlock (mirrors
// the teacher's ResourceLockManager.LockAll). A failure to acquire
// (context cancelled while waiting) releases whatever was already
// acquired before returning.
func (p *Pool) acquireResources(ctx context.Context, t *task.Task) error {
	names := append([]string(nil), t.RequiredResources...)
	sort.Strings(names)

	acquired := make([]string, 0, len(names))
	for _, name := range names {
		sem := p.resources.get(name)
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, done := range acquired {
				p.resources.get(done).Release(1)
			}
			return err
		}
		acquired = append(acquired, name)
	}
	return nil
}

func (p *Pool) releaseResources(t *task.Task) {
	for _, name := range t.RequiredResources {
		p.resources.get(name).Release(1)
	}
}
