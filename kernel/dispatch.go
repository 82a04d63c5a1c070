package kernel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/notify"
)

// launch captures one assignment made during a dispatch transaction,
// executed after the document commits.
type launch struct {
	workerID  string
	taskID    string
	leaseID   string
	projectID string
	repoPath  string
	planOnly  bool
}

// dispatchCycle assigns ready tasks to idle workers across every active
// project.
func (k *Kernel) dispatchCycle(ctx context.Context) {
	k.mu.Lock()
	enabled := k.dispatchEnabled
	k.cycles++
	k.lastCycleAt = time.Now()
	k.mu.Unlock()
	if !enabled {
		return
	}

	reg, err := k.store.ReadProjects()
	if err != nil {
		k.logger.Error("Dispatch cycle cannot read projects", "error", err)
		return
	}
	k.metrics.DispatchCycles.Inc()

	for _, p := range reg.Projects {
		if p.Status != model.ProjectActive {
			continue
		}
		k.dispatchProject(ctx, p)
	}
}

func (k *Kernel) dispatchProject(ctx context.Context, p *model.Project) {
	var launches []launch
	var changedTasks []*model.Task
	now := time.Now()

	k.mu.Lock()
	err := k.store.UpdateTasks(p.ID, func(doc *model.Document) (bool, error) {
		changed := false

		if k.rollUpParents(doc, p.ID) {
			changed = true
		}

		idle := k.idleWorkersLocked()
		idleFlags := map[model.Engine]bool{
			model.EngineA: len(idle[model.EngineA]) > 0,
			model.EngineB: len(idle[model.EngineB]) > 0,
		}

		candidates := readyTasks(doc, now)
		if len(candidates) > 0 && !k.anyEngineHealthyLocked() {
			ev := events.NewEvent(model.EventAlertTriggered, model.LevelCritical,
				fmt.Sprintf("%d tasks ready but no healthy workers on either engine", len(candidates)))
			k.appendEvent(doc, p.ID, ev)
			k.notifier.Push(notify.Notification{
				Title:     "Worker pool exhausted",
				Body:      ev.Message,
				Level:     model.LevelCritical,
				ProjectID: p.ID,
			})
			return true, nil
		}

		for _, task := range candidates {
			decision := k.router.Route(task, idleFlags)
			if decision.Skip {
				continue
			}
			worker := pickWorker(idle[decision.Engine])
			if worker == nil {
				idleFlags[decision.Engine] = false
				continue
			}
			idle[decision.Engine] = removeWorker(idle[decision.Engine], worker.ID)
			idleFlags[decision.Engine] = len(idle[decision.Engine]) > 0

			leaseID := events.NewLeaseID()
			task.Status = model.StatusInProgress
			task.AssignedWorker = worker.ID
			task.RoutedEngine = decision.Engine
			task.StartedAt = model.NowISO()
			task.AppendAttempt(worker.ID, decision.Engine, leaseID)
			task.AddTimeline("dispatched", map[string]any{
				"worker_id": worker.ID,
				"engine":    string(decision.Engine),
				"lease_id":  leaseID,
			})

			if decision.Fallback {
				task.FallbackReason = decision.FallbackReason
				ev := events.NewEvent(model.EventEngineFallback, model.LevelWarning,
					fmt.Sprintf("task %s rerouted to %s (%s)", task.ID, decision.Engine, decision.FallbackReason))
				ev.TaskID = task.ID
				k.appendEvent(doc, p.ID, ev)
				k.metrics.EngineFallbacks.Inc()
			} else {
				task.FallbackReason = ""
			}

			ev := events.NewEvent(model.EventTaskDispatched, model.LevelInfo,
				fmt.Sprintf("task %s dispatched to %s on %s", task.ID, worker.ID, decision.Engine))
			ev.TaskID = task.ID
			ev.WorkerID = worker.ID
			k.appendEvent(doc, p.ID, ev)

			claim := events.NewEvent(model.EventWorkerClaimed, model.LevelInfo,
				fmt.Sprintf("worker %s claimed task %s", worker.ID, task.ID))
			claim.TaskID = task.ID
			claim.WorkerID = worker.ID
			k.appendEvent(doc, p.ID, claim)

			worker.Status = model.WorkerBusy
			worker.CurrentTaskID = task.ID
			worker.CurrentProjectID = p.ID
			worker.LeaseID = leaseID
			worker.StartedAt = model.NowISO()
			worker.Health.LastHeartbeat = worker.StartedAt
			k.lastProject[worker.ID] = p.ID
			k.publishWorker(worker)

			launches = append(launches, launch{
				workerID:  worker.ID,
				taskID:    task.ID,
				leaseID:   leaseID,
				projectID: p.ID,
				repoPath:  p.RepoPath,
				planOnly:  task.PlanMode && task.PlanContent == "",
			})
			changedTasks = append(changedTasks, task)
			k.metrics.TasksDispatched.WithLabelValues(string(decision.Engine)).Inc()
			changed = true
		}
		return changed, nil
	})
	k.mu.Unlock()

	if err != nil {
		k.logger.Error("Dispatch transaction failed", "project_id", p.ID, "error", err)
		return
	}
	for _, t := range changedTasks {
		k.publishTask(p.ID, t)
	}
	for _, l := range launches {
		k.launch(ctx, l)
	}
}

// rollUpParents completes parents whose subtasks have all completed.
func (k *Kernel) rollUpParents(doc *model.Document, projectID string) bool {
	changed := false
	for _, t := range doc.Tasks {
		if t.Status != model.StatusBlockedBySubtasks || len(t.SubTasks) == 0 {
			continue
		}
		done := true
		for _, subID := range t.SubTasks {
			sub := doc.FindTask(subID)
			if sub == nil || sub.Status != model.StatusCompleted {
				done = false
				break
			}
		}
		if !done {
			continue
		}
		t.Status = model.StatusCompleted
		t.CompletedAt = model.NowISO()
		t.AddTimeline("subtasks_all_completed", map[string]any{"count": len(t.SubTasks)})
		ev := events.NewEvent(model.EventTaskCompleted, model.LevelInfo,
			fmt.Sprintf("task %s completed: all %d subtasks done", t.ID, len(t.SubTasks)))
		ev.TaskID = t.ID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		changed = true
	}
	return changed
}

// readyTasks filters and orders the dispatchable queue: pending, with
// satisfied dependencies and an elapsed retry delay, ordered by SLA
// tier, then priority, then age.
func readyTasks(doc *model.Document, now time.Time) []*model.Task {
	var out []*model.Task
	for _, t := range doc.Tasks {
		if t.Status != model.StatusPending {
			continue
		}
		if !doc.DependenciesSatisfied(t) {
			continue
		}
		if after, ok := model.ParseISO(t.RetryAfter); ok && now.Before(after) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := model.SLARank(a.SLATier), model.SLARank(b.SLATier); sa != sb {
			return sa < sb
		}
		if pa, pb := model.PriorityRank(a.Priority), model.PriorityRank(b.Priority); pa != pb {
			return pa < pb
		}
		return a.CreatedAt < b.CreatedAt
	})
	return out
}

// anyEngineHealthyLocked reports whether at least one pool slot could
// take work at all: CLI resolvable and failure streak under the ceiling.
// Busy workers count as healthy; an all-busy pool is backlog, not an
// outage. Caller holds mu.
func (k *Kernel) anyEngineHealthyLocked() bool {
	for _, w := range k.workers {
		if w.CLIAvailable && w.Health.ConsecutiveFailures < k.cfg.Workers.MaxConsecutiveFailures {
			return true
		}
	}
	return false
}

// idleWorkersLocked groups healthy idle workers by engine. Caller holds
// mu.
func (k *Kernel) idleWorkersLocked() map[model.Engine][]*model.Worker {
	idle := make(map[model.Engine][]*model.Worker)
	for _, w := range k.workers {
		if w.Status != model.WorkerIdle {
			continue
		}
		if !w.CLIAvailable {
			continue
		}
		if w.Health.ConsecutiveFailures >= k.cfg.Workers.MaxConsecutiveFailures {
			continue
		}
		idle[w.Engine] = append(idle[w.Engine], w)
	}
	return idle
}

// pickWorker prefers the slot with the fewest consecutive failures,
// breaking ties by total completions so load spreads.
func pickWorker(workers []*model.Worker) *model.Worker {
	var best *model.Worker
	for _, w := range workers {
		if best == nil {
			best = w
			continue
		}
		if w.Health.ConsecutiveFailures < best.Health.ConsecutiveFailures {
			best = w
			continue
		}
		if w.Health.ConsecutiveFailures == best.Health.ConsecutiveFailures &&
			w.TotalCompleted < best.TotalCompleted {
			best = w
		}
	}
	return best
}

func removeWorker(workers []*model.Worker, id string) []*model.Worker {
	for i, w := range workers {
		if w.ID == id {
			return append(workers[:i], workers[i+1:]...)
		}
	}
	return workers
}
