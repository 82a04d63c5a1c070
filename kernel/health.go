package kernel

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
)

// healthCycle probes engine CLIs, times out stuck workers, and recovers
// cooled-down error workers. It runs even when dispatch is paused.
func (k *Kernel) healthCycle(ctx context.Context) {
	k.probeCLIs()
	k.timeoutStuckWorkers(ctx)
	k.recoverErrorWorkers()
	k.updateWorkerGauges()
}

// probeCLIs checks that each engine's CLI binary resolves on PATH and
// flags each pool slot accordingly.
func (k *Kernel) probeCLIs() {
	avail := map[model.Engine]bool{
		model.EngineA: cliOnPath(k.cfg.Engines.ACLI),
		model.EngineB: cliOnPath(k.cfg.Engines.BCLI),
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, w := range k.workers {
		was := w.CLIAvailable
		w.CLIAvailable = avail[w.Engine]
		if was != w.CLIAvailable {
			k.logger.Warn("Engine CLI availability changed",
				"worker_id", w.ID, "engine", w.Engine, "available", w.CLIAvailable)
			k.publishWorker(w)
		}
	}
}

func cliOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// stuckWorker captures what to unwind for one timed-out slot.
type stuckWorker struct {
	workerID  string
	taskID    string
	projectID string
	leaseID   string
}

// timeoutStuckWorkers moves busy workers with a stale heartbeat to
// error, kills their process, and pushes the orphaned task through the
// retry policy.
func (k *Kernel) timeoutStuckWorkers(ctx context.Context) {
	now := time.Now()
	var stuck []stuckWorker

	k.mu.Lock()
	for _, w := range k.workers {
		if w.Status != model.WorkerBusy {
			continue
		}
		hb, ok := model.ParseISO(w.Health.LastHeartbeat)
		if ok && now.Sub(hb) <= k.cfg.Workers.HeartbeatTimeout {
			continue
		}
		if !ok {
			// No heartbeat recorded yet; judge from dispatch time.
			started, sok := model.ParseISO(w.StartedAt)
			if !sok || now.Sub(started) <= k.cfg.Workers.HeartbeatTimeout {
				continue
			}
		}
		stuck = append(stuck, stuckWorker{
			workerID:  w.ID,
			taskID:    w.CurrentTaskID,
			projectID: w.CurrentProjectID,
			leaseID:   w.LeaseID,
		})

		w.Status = model.WorkerError
		w.ErrorAt = model.NowISO()
		w.Health.ConsecutiveFailures++
		w.CurrentTaskID = ""
		w.CurrentProjectID = ""
		w.LeaseID = ""
		w.PID = 0
		w.StartedAt = ""
		k.publishWorker(w)

		if cancel, ok := k.runs[w.ID]; ok {
			cancel()
		}
	}
	k.mu.Unlock()

	for _, s := range stuck {
		k.logger.Error("Worker heartbeat timeout",
			"worker_id", s.workerID, "task_id", s.taskID,
			"timeout", k.cfg.Workers.HeartbeatTimeout)
		k.metrics.WorkerTimeouts.Inc()
		if s.taskID == "" || s.projectID == "" {
			continue
		}
		k.failOrphanedTask(s)
	}
}

// failOrphanedTask pushes a task whose worker timed out through the
// retry policy. The worker-side lease is already cleared, so the task
// attempt is matched directly.
func (k *Kernel) failOrphanedTask(s stuckWorker) {
	err := k.store.UpdateTasks(s.projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(s.taskID)
		if t == nil || t.Status != model.StatusInProgress || t.AssignedWorker != s.workerID {
			return false, nil
		}
		att := t.LatestAttempt()
		if att == nil || att.LeaseID != s.leaseID {
			return false, nil
		}
		msg := fmt.Sprintf("worker %s heartbeat timeout", s.workerID)
		closeAttempt(t, "failed", nil, msg, nil)
		k.failTask(doc, s.projectID, t, s.workerID, msg, -1)
		return true, nil
	})
	if err != nil {
		k.logger.Error("Orphaned task transaction failed", "task_id", s.taskID, "error", err)
	}
}

// recoverErrorWorkers returns cooled-down error workers to idle. Slots
// past the consecutive-failure cap stay down until an operator resets
// them.
func (k *Kernel) recoverErrorWorkers() {
	now := time.Now()
	type recovered struct {
		workerID  string
		projectID string
	}
	var back []recovered

	k.mu.Lock()
	for _, w := range k.workers {
		if w.Status != model.WorkerError {
			continue
		}
		if w.Health.ConsecutiveFailures >= k.cfg.Workers.MaxConsecutiveFailures {
			continue
		}
		errAt, ok := model.ParseISO(w.ErrorAt)
		if ok && now.Sub(errAt) < k.cfg.Workers.Cooldown {
			continue
		}
		w.Status = model.WorkerIdle
		w.ErrorAt = ""
		w.Health.LastHeartbeat = model.NowISO()
		k.publishWorker(w)
		project := k.lastProject[w.ID]
		if project == "" {
			project = model.DefaultProjectID
		}
		back = append(back, recovered{workerID: w.ID, projectID: project})
	}
	k.mu.Unlock()

	for _, r := range back {
		k.logger.Info("Worker recovered after cooldown", "worker_id", r.workerID)
		err := k.store.UpdateTasks(r.projectID, func(doc *model.Document) (bool, error) {
			ev := events.NewEvent(model.EventWorkerRecovered, model.LevelInfo,
				fmt.Sprintf("worker %s recovered after cooldown", r.workerID))
			ev.WorkerID = r.workerID
			k.appendEvent(doc, r.projectID, ev)
			return true, nil
		})
		if err != nil {
			k.logger.Error("Recovery event transaction failed", "worker_id", r.workerID, "error", err)
		}
	}
}

// ResetWorker clears a disabled worker's failure streak and returns it
// to idle, the operator-side escape hatch for slots past the cap.
func (k *Kernel) ResetWorker(workerID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	w := k.findWorker(workerID)
	if w == nil {
		return fmt.Errorf("worker %s not found", workerID)
	}
	if w.Status == model.WorkerBusy {
		return fmt.Errorf("worker %s is busy", workerID)
	}
	w.Status = model.WorkerIdle
	w.ErrorAt = ""
	w.Health.ConsecutiveFailures = 0
	w.Health.LastHeartbeat = model.NowISO()
	k.publishWorker(w)
	k.logger.Info("Worker manually reset", "worker_id", workerID)
	return nil
}

// WorkerLog returns the buffered transcript for one worker.
func (k *Kernel) WorkerLog(workerID string) []string {
	return k.runner.Ring(workerID).Snapshot()
}
