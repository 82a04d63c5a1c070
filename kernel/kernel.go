// Package kernel is the orchestrator core: it owns the worker pool,
// runs the dispatch and health loops, and applies every task state
// transition inside store transactions.
package kernel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/notify"
	"github.com/c360studio/agentboard/review"
	"github.com/c360studio/agentboard/router"
	"github.com/c360studio/agentboard/runner"
	"github.com/c360studio/agentboard/store"
	"github.com/c360studio/agentboard/worktree"
)

// Kernel wires the dispatch machinery together. Worker state is held in
// process memory under mu; task state lives in the store and is only
// touched inside transactions.
type Kernel struct {
	cfg       *config.Config
	store     *store.Store
	bus       *events.Bus
	router    *router.Router
	reviews   *review.Manager
	runner    *runner.Runner
	worktrees worktree.Provider
	notifier  *notify.Notifier
	metrics   *Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	workers []*model.Worker
	// runs maps a busy worker to the cancel func of its execution
	// goroutine, so health timeouts can kill the process.
	runs map[string]context.CancelFunc
	// lastProject remembers the most recent project a worker served,
	// giving worker-level events a document to land in.
	lastProject map[string]string

	dispatchEnabled bool
	lastCycleAt     time.Time
	cycles          int64

	wg sync.WaitGroup
}

// New builds a kernel from configuration and its collaborators.
func New(cfg *config.Config, st *store.Store, bus *events.Bus, notifier *notify.Notifier, logger *slog.Logger) (*Kernel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := worktree.NewProvider(cfg.Worktree, logger)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:             cfg,
		store:           st,
		bus:             bus,
		router:          router.New(nil),
		reviews:         review.NewManager(cfg.Review.MaxRounds, logger),
		worktrees:       provider,
		notifier:        notifier,
		metrics:         NewMetrics(),
		logger:          logger,
		workers:         model.BuildWorkers(cfg.Workers.Pool, worktree.WorktreesDir),
		runs:            make(map[string]context.CancelFunc),
		lastProject:     make(map[string]string),
		dispatchEnabled: cfg.Dispatch.Enabled,
	}
	k.runner = runner.New(cfg, k.onWorkerLine, logger)
	k.runner.OnStart(k.onWorkerStart)
	return k, nil
}

// Router exposes the classification rules to intake and the task API.
func (k *Kernel) Router() *router.Router { return k.router }

// Runner exposes the per-worker log rings.
func (k *Kernel) Runner() *runner.Runner { return k.runner }

// Metrics exposes the kernel's Prometheus collectors.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// Start launches the dispatch and health loops and blocks until the
// context is cancelled, then waits for in-flight executions.
func (k *Kernel) Start(ctx context.Context) {
	k.logger.Info("Kernel starting",
		"workers", len(k.workers),
		"dispatch_interval", k.cfg.Dispatch.Interval,
		"health_interval", k.cfg.Dispatch.HealthInterval,
		"exec_mode", k.cfg.Engines.ExecMode)

	// One probe up front so the first dispatch cycle sees CLI state.
	k.probeCLIs()

	dispatch := time.NewTicker(k.cfg.Dispatch.Interval)
	health := time.NewTicker(k.cfg.Dispatch.HealthInterval)
	defer dispatch.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Kernel stopping, waiting for in-flight tasks")
			k.wg.Wait()
			return
		case <-dispatch.C:
			k.dispatchCycle(ctx)
		case <-health.C:
			k.healthCycle(ctx)
		}
	}
}

// SetDispatchEnabled toggles the dispatch loop at runtime. The health
// loop runs regardless.
func (k *Kernel) SetDispatchEnabled(enabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dispatchEnabled = enabled
	k.logger.Info("Dispatch toggled", "enabled", enabled)
}

// DispatchEnabled reports the runtime dispatch toggle.
func (k *Kernel) DispatchEnabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dispatchEnabled
}

// Workers returns a snapshot of the pool.
func (k *Kernel) Workers() []model.Worker {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]model.Worker, 0, len(k.workers))
	for _, w := range k.workers {
		out = append(out, *w)
	}
	return out
}

// findWorker returns the pool slot by id. Caller holds mu.
func (k *Kernel) findWorker(id string) *model.Worker {
	for _, w := range k.workers {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// onWorkerStart records the live CLI pid on the pool slot. The runner
// only sees a snapshot of the worker, so the write happens here under mu.
func (k *Kernel) onWorkerStart(workerID string, pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w := k.findWorker(workerID); w != nil {
		w.PID = pid
	}
}

// onWorkerLine streams engine output: it refreshes the worker heartbeat
// and forwards the line on the change stream. Lines are not persisted.
func (k *Kernel) onWorkerLine(workerID, taskID, line string) {
	k.mu.Lock()
	if w := k.findWorker(workerID); w != nil {
		w.Health.LastHeartbeat = model.NowISO()
		w.LastSeenAt = w.Health.LastHeartbeat
	}
	k.mu.Unlock()

	ev := events.NewEvent(model.EventWorkerLog, model.LevelInfo, line)
	ev.WorkerID = workerID
	ev.TaskID = taskID
	k.bus.Publish(events.Envelope{
		Kind:  events.KindEventEmitted,
		Event: ev,
		At:    model.NowISO(),
	})
}

// appendEvent records a structured event in the document ring and
// mirrors it on the change stream.
func (k *Kernel) appendEvent(doc *model.Document, projectID string, ev *model.Event) {
	doc.Events = append(doc.Events, ev)
	k.bus.Publish(events.Envelope{
		Kind:      events.KindEventEmitted,
		ProjectID: projectID,
		Event:     ev,
		At:        model.NowISO(),
	})
}

// publishTask mirrors a task mutation on the change stream.
func (k *Kernel) publishTask(projectID string, t *model.Task) {
	copied := *t
	k.bus.Publish(events.Envelope{
		Kind:      events.KindTaskChanged,
		ProjectID: projectID,
		Task:      &copied,
		At:        model.NowISO(),
	})
}

// publishWorker mirrors a worker state change on the change stream.
// Caller holds mu.
func (k *Kernel) publishWorker(w *model.Worker) {
	copied := *w
	k.bus.Publish(events.Envelope{
		Kind:   events.KindWorkerChanged,
		Worker: &copied,
		At:     model.NowISO(),
	})
}
