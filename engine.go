// Package engine is the taskforge Core API facade (spec §6): it wires the
// task store, dependency graph, lifecycle manager, scheduler, runner
// registry, executor pool, autonomous breakdowner, monitor, optimizer,
// and persistence store into one runnable engine and exposes the
// submit/get/list/cancel/subscribe/metrics surface a caller drives it
// through. Nothing outside this package reaches into a component's
// internals directly — the same boundary the teacher's
// internal/orchestrator.Orchestrator held over its own subsystems.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskforge/engine/internal/breakdown"
	"github.com/taskforge/engine/internal/config"
	"github.com/taskforge/engine/internal/events"
	"github.com/taskforge/engine/internal/executor"
	"github.com/taskforge/engine/internal/graph"
	"github.com/taskforge/engine/internal/lifecycle"
	"github.com/taskforge/engine/internal/monitor"
	"github.com/taskforge/engine/internal/optimizer"
	"github.com/taskforge/engine/internal/persistence"
	"github.com/taskforge/engine/internal/runner"
	"github.com/taskforge/engine/internal/scheduler"
	"github.com/taskforge/engine/internal/task"
)

// Engine is the assembled task-queue scheduler (spec §6). Create one with
// New, register any application Runners/Breakdowners, then call Start.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	store    *task.Store
	graph    *graph.Graph
	bus      *events.Bus
	life     *lifecycle.Manager
	sched    *scheduler.Scheduler
	runners  *runner.Registry
	pool     *executor.Pool
	breaker  *breakdown.Engine
	mon      *monitor.Monitor
	opt      *optimizer.Optimizer
	persist  *persistence.Store
	archive  *persistence.Archive

	sessionID string

	subsMu sync.Mutex
	subs   map[string]chan struct{}

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func graphResolution(p config.CycleResolutionPolicy) graph.Resolution {
	switch p {
	case config.CycleResolutionBestEffort:
		return graph.ResolutionBestEffort
	case config.CycleResolutionParallelOptimized:
		return graph.ResolutionParallelOptimized
	default:
		return graph.ResolutionStrict
	}
}

// New wires every component (C1-C9) into a runnable Engine. cfg is held
// by reference: the Optimizer (C7) mutates it live, so callers must not
// mutate cfg concurrently outside the Engine once New returns. log may be
// the zero value, which discards output. sessionID labels this process's
// persisted backups (spec §4.8); a blank sessionID generates one.
func New(cfg *config.Config, sessionID string, log zerolog.Logger) *Engine {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	store := task.NewStore()
	bus := events.NewBus()
	g := graph.New(store, bus, graphResolution(cfg.CycleResolutionPolicy))
	life := lifecycle.New(store, log)
	sched := scheduler.New(g, cfg)
	registry := runner.NewRegistry()
	pool := executor.New(store, g, life, sched, registry, bus, cfg, log)
	breakdownEngine := breakdown.New(store, g, registry, bus, cfg)
	mon := monitor.New(store, bus, cfg, log)
	opt := optimizer.New(cfg, sched, mon, bus, log)
	persist := persistence.New(cfg.StorageDir, cfg.MaxBackups, sessionID, bus, log)

	archive, err := persistence.OpenArchive(cfg.StorageDir)
	if err != nil {
		log.Warn().Err(err).Msg("execution-history archive unavailable, history will not be durably logged")
		archive = nil
	}

	return &Engine{
		cfg:       cfg,
		log:       log.With().Str("component", "engine").Logger(),
		store:     store,
		graph:     g,
		bus:       bus,
		life:      life,
		sched:     sched,
		runners:   registry,
		pool:      pool,
		breaker:   breakdownEngine,
		mon:       mon,
		opt:       opt,
		persist:   persist,
		archive:   archive,
		sessionID: sessionID,
		subs:      make(map[string]chan struct{}),
	}
}

// RegisterRunner binds name to an application-supplied Runner (spec §6
// registerRunner). Safe to call before or after Start.
func (e *Engine) RegisterRunner(name string, r runner.Runner) {
	e.runners.Register(name, r)
}

// RegisterBreakdowner binds name to an application-supplied Breakdowner
// strategy (spec §6 registerBreakdowner), in addition to the always-on
// "default" heuristic.
func (e *Engine) RegisterBreakdowner(name string, b breakdown.Breakdowner) {
	e.breaker.Register(name, b)
}

// Start rehydrates persisted state (if any), launches the dispatch,
// monitoring, adaptation, adjustment, and autosave loops, and returns
// once they are all running. Call Close to stop them. Calling Start
// twice is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return fmt.Errorf("engine: already started")
	}

	if err := e.restore(); err != nil {
		return fmt.Errorf("engine: restoring persisted state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(5)
	go e.dispatchLoop(runCtx)
	go func() { defer e.wg.Done(); e.mon.Run(runCtx, 5*time.Second) }()
	go func() { defer e.wg.Done(); e.opt.Run(runCtx, 0) }()
	go e.adjustmentLoop(runCtx)
	go e.autosaveLoop(runCtx)

	e.log.Info().Str("session_id", e.sessionID).Msg("engine started")
	return nil
}

// Close stops every background loop and blocks until they exit, then
// performs one final best-effort save so a clean shutdown never loses
// state an autosave tick hadn't reached yet.
func (e *Engine) Close() error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return nil
	}
	e.cancel()
	e.running = false
	e.runMu.Unlock()

	e.wg.Wait()

	e.subsMu.Lock()
	for id, stop := range e.subs {
		close(stop)
		delete(e.subs, id)
	}
	e.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := e.buildSnapshot()
	saveErr := e.persist.SaveWithRetry(ctx, snap)
	if saveErr != nil {
		e.log.Warn().Err(saveErr).Msg("final save on close failed")
	}
	e.archiveHistory(snap.CompletedRecords)
	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			e.log.Warn().Err(err).Msg("closing execution-history archive failed")
		}
	}
	return saveErr
}

// archiveHistory appends records to the durable execution-history
// archive, if one is open. A missing/unavailable archive is not fatal:
// the live snapshot already carries the same records for restart
// purposes.
func (e *Engine) archiveHistory(records []task.ExecutionRecord) {
	if e.archive == nil {
		return
	}
	if err := e.archive.Append(records); err != nil {
		e.log.Warn().Err(err).Msg("appending to execution-history archive failed")
	}
}

// restore loads storageDir/queue-state.json (if present) into the store
// and graph before the engine starts driving work (spec §4.8 load path).
func (e *Engine) restore() error {
	snap, err := e.persist.Load()
	if err != nil {
		return err
	}
	if len(snap.Tasks) == 0 {
		return nil
	}

	result, err := persistence.Restore(snap, e.store, e.graph, e.runners, persistence.RestoreOptions{Repair: true})
	if err != nil {
		return err
	}
	e.sched.SetWeights(snap.SchedulerWeights)
	e.log.Info().
		Int("tasks_loaded", result.TasksLoaded).
		Int("edges_loaded", result.EdgesLoaded).
		Int("edges_dropped", result.EdgesDropped).
		Int("reset_to_queued", len(result.ResetToQueued)).
		Int("runner_missing", len(result.RunnerMissing)).
		Msg("restored persisted state")
	return nil
}

// dispatchLoop wraps executor.Pool.Run, which drains the ready set to
// completion and returns rather than looping forever: this goroutine
// keeps re-entering it so tasks submitted after a drain still get
// picked up (spec §6 "the engine keeps running until Close").
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := e.pool.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn().Err(err).Msg("dispatch round ended with error")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// adjustmentLoop recomputes dynamic priority and applies starvation
// prevention on cfg.AdjustmentInterval (spec §4.3).
func (e *Engine) adjustmentLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.AdjustmentInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sched.Recompute(e.store, e.schedulerContext(now))
			scheduler.ApplyStarvation(e.store, e.cfg, now)
		}
	}
}

// autosaveLoop persists a full snapshot on cfg.AutoSaveInterval (spec
// §4.8).
func (e *Engine) autosaveLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.AutoSaveInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.buildSnapshot()
			if err := e.persist.SaveWithRetry(ctx, snap); err != nil {
				e.log.Warn().Err(err).Msg("autosave failed")
			}
			e.archiveHistory(snap.CompletedRecords)
		}
	}
}

func (e *Engine) schedulerContext(now time.Time) scheduler.Context {
	snap := e.mon.Snapshot()
	return scheduler.Context{
		Now:             now,
		QueueDepth:      snap.QueueDepth,
		AverageWaitTime: snap.AverageWaitTime,
		ActiveTasks:     snap.ActiveTasks,
		Capacity:        e.cfg.MaxConcurrentTasks,
	}
}

// buildSnapshot assembles the full persistence.Snapshot from every
// component's current state (spec §4.8 persisted layout).
func (e *Engine) buildSnapshot() persistence.Snapshot {
	return persistence.Snapshot{
		SessionID:        e.sessionID,
		Timestamp:        time.Now(),
		Tasks:            e.store.Snapshot().Tasks,
		Edges:            e.graph.AllEdges(),
		CompletedRecords: e.pool.AllHistory(),
		Metrics:          e.mon.Snapshot(),
		SchedulerWeights: e.opt.Weights(),
	}
}
