package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/notify"
	"github.com/c360studio/agentboard/review"
	"github.com/c360studio/agentboard/runner"
	"github.com/c360studio/agentboard/worktree"
)

// failureAlertThreshold is the consecutive-failure count on one worker
// that raises a critical alert.
const failureAlertThreshold = 3

// rateLimitSignatures in an error tail select the long retry delay.
var rateLimitSignatures = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"quota exceeded",
	"overloaded",
}

// launch starts the execution goroutine for one assignment.
func (k *Kernel) launch(ctx context.Context, l launch) {
	runCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.runs[l.workerID] = cancel
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			cancel()
			k.mu.Lock()
			delete(k.runs, l.workerID)
			k.mu.Unlock()
		}()
		k.execute(runCtx, l)
	}()
}

// execute runs one assigned task to completion on its worker.
func (k *Kernel) execute(ctx context.Context, l launch) {
	k.mu.Lock()
	worker := k.findWorker(l.workerID)
	if worker == nil || worker.LeaseID != l.leaseID {
		k.mu.Unlock()
		return
	}
	snapshot := *worker
	k.mu.Unlock()

	task, err := k.loadTask(l.projectID, l.taskID)
	if err != nil {
		k.logger.Error("Cannot load task for execution", "task_id", l.taskID, "error", err)
		k.Fail(l.projectID, l.taskID, l.workerID, l.leaseID, runner.Result{StderrTail: err.Error()})
		return
	}

	if l.planOnly {
		k.executePlan(ctx, l, task)
		return
	}

	dir := l.repoPath
	if l.repoPath != "" {
		if err := k.worktrees.Prepare(ctx, l.repoPath, l.workerID, l.taskID); err != nil {
			k.logger.Error("Worktree preparation failed",
				"worker_id", l.workerID, "task_id", l.taskID, "error", err)
			k.Fail(l.projectID, l.taskID, l.workerID, l.leaseID,
				runner.Result{StderrTail: "worktree preparation failed: " + err.Error()})
			return
		}
		dir = worktree.Path(l.repoPath, l.workerID)
	}

	res, err := k.runner.Run(ctx, &snapshot, task, dir)
	if err != nil {
		k.Fail(l.projectID, l.taskID, l.workerID, l.leaseID,
			runner.Result{StderrTail: err.Error()})
		return
	}
	if !res.Success {
		k.Fail(l.projectID, l.taskID, l.workerID, l.leaseID, res)
		return
	}

	if l.repoPath != "" && task.TaskType != model.TypeReview {
		outcome, mergeErr := k.worktrees.Merge(ctx, l.repoPath, l.workerID, l.taskID)
		if mergeErr != nil {
			k.logger.Warn("Merge failed", "task_id", l.taskID, "error", mergeErr)
		} else if outcome.Conflict {
			k.recordMergeConflict(l.projectID, l.taskID, outcome.Detail)
		}
	}
	k.Complete(l.projectID, l.taskID, l.workerID, l.leaseID, res)
}

// executePlan runs the read-only planning pass and parks the task in
// plan review.
func (k *Kernel) executePlan(ctx context.Context, l launch, task *model.Task) {
	dir := l.repoPath
	if dir == "" {
		dir = "."
	}
	engine := task.RoutedEngine
	plan, err := k.runner.GeneratePlan(ctx, engine, task, dir)
	if err != nil {
		k.parkFailedPlan(l, err)
		return
	}

	released := k.releaseWorker(l.workerID, l.leaseID, true, 0)
	if !released {
		return
	}
	err = k.store.UpdateTasks(l.projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(l.taskID)
		if t == nil || t.AssignedWorker != l.workerID {
			return false, nil
		}
		if att := t.LatestAttempt(); att == nil || att.LeaseID != l.leaseID {
			return false, nil
		}
		closeAttempt(t, "completed", nil, "", nil)
		t.Status = model.StatusPlanReview
		t.AssignedWorker = ""
		t.PlanContent = plan.Content
		t.PlanQuestions = plan.Questions
		t.AddTimeline("plan_generated", map[string]any{
			"questions": len(plan.Questions),
		})
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s plan ready for review", t.ID))
		ev.TaskID = t.ID
		k.appendEvent(doc, l.projectID, ev)
		k.publishTask(l.projectID, t)
		return true, nil
	})
	if err != nil {
		k.logger.Error("Plan completion transaction failed", "task_id", l.taskID, "error", err)
	}
}

// parkFailedPlan keeps a task whose planning pass failed in plan review
// instead of retrying it; the author asked for a plan gate, so a human
// decides what happens next.
func (k *Kernel) parkFailedPlan(l launch, planErr error) {
	if !k.releaseWorker(l.workerID, l.leaseID, false, 0) {
		return
	}
	k.maybeAlertOnFailures(l.workerID, l.projectID)

	err := k.store.UpdateTasks(l.projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(l.taskID)
		if t == nil || t.AssignedWorker != l.workerID {
			return false, nil
		}
		if att := t.LatestAttempt(); att == nil || att.LeaseID != l.leaseID {
			return false, nil
		}
		closeAttempt(t, "failed", nil, planErr.Error(), nil)
		t.Status = model.StatusPlanReview
		t.AssignedWorker = ""
		t.BlockedReason = "plan_generation_failed"
		t.ErrorLog = planErr.Error()
		t.AddTimeline("plan_generation_failed", map[string]any{"error": planErr.Error()})
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelWarning,
			fmt.Sprintf("task %s plan generation failed, awaiting review", t.ID))
		ev.TaskID = t.ID
		k.appendEvent(doc, l.projectID, ev)
		k.publishTask(l.projectID, t)
		return true, nil
	})
	if err != nil {
		k.logger.Error("Plan failure transaction failed", "task_id", l.taskID, "error", err)
	}
}

// Complete finalizes a successful execution. The worker and the task
// must both still hold the lease; any mismatch makes this a silent
// no-op, because the health loop already reassigned the work.
func (k *Kernel) Complete(projectID, taskID, workerID, leaseID string, res runner.Result) {
	if !k.releaseWorker(workerID, leaseID, true, res.DurationMS) {
		return
	}

	transcript := strings.Join(k.runner.Ring(workerID).Snapshot(), "\n")
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil || t.AssignedWorker != workerID {
			return false, nil
		}
		att := t.LatestAttempt()
		if att == nil || att.LeaseID != leaseID {
			return false, nil
		}
		closeAttempt(t, "completed", &res.ExitCode, res.StdoutTail, res.CommitIDs)
		t.MergeCommitIDs(res.CommitIDs)
		t.LastExitCode = &res.ExitCode
		t.AssignedWorker = ""
		t.ErrorLog = ""
		t.RetryAfter = ""

		if t.TaskType == model.TypeReview {
			k.finishReview(doc, projectID, t, transcript)
			return true, nil
		}

		if review.ReviewableType(t.TaskType) {
			child := k.reviews.SpawnReview(doc, t)
			ev := events.NewEvent(model.EventReviewRequested, model.LevelInfo,
				fmt.Sprintf("task %s awaiting review by %s", t.ID, child.ID))
			ev.TaskID = t.ID
			k.appendEvent(doc, projectID, ev)
			k.publishTask(projectID, child)
			k.publishTask(projectID, t)
			return true, nil
		}

		t.Status = model.StatusCompleted
		t.CompletedAt = model.NowISO()
		t.ReviewFeedback = ""
		t.BlockedReason = ""
		ev := events.NewEvent(model.EventTaskCompleted, model.LevelInfo,
			fmt.Sprintf("task %s completed", t.ID))
		ev.TaskID = t.ID
		ev.WorkerID = workerID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		k.metrics.TasksCompleted.Inc()
		return true, nil
	})
	if err != nil {
		k.logger.Error("Completion transaction failed", "task_id", taskID, "error", err)
	}
}

// finishReview closes a review task and applies its verdict to the
// parent. Caller runs inside the document transaction.
func (k *Kernel) finishReview(doc *model.Document, projectID string, t *model.Task, transcript string) {
	t.Status = model.StatusCompleted
	t.CompletedAt = model.NowISO()
	k.metrics.TasksCompleted.Inc()

	parent := doc.FindTask(t.ParentTaskID)
	if parent == nil {
		k.logger.Warn("Review task has no parent", "task_id", t.ID)
		k.publishTask(projectID, t)
		return
	}

	verdict, parseErr := review.ParseVerdict(transcript)
	if parseErr != nil {
		k.logger.Warn("Review verdict unparseable", "task_id", t.ID, "error", parseErr)
		verdict = nil
	}
	round := parent.ReviewRound + 1
	outcome := k.reviews.ApplyVerdict(parent, verdict, round)

	var ev *model.Event
	switch {
	case outcome.Approved:
		ev = events.NewEvent(model.EventReviewVerdict, model.LevelInfo,
			fmt.Sprintf("task %s approved by review %s", parent.ID, t.ID))
		k.metrics.ReviewsApproved.Inc()
	case outcome.FixRound:
		ev = events.NewEvent(model.EventReviewVerdict, model.LevelWarning,
			fmt.Sprintf("task %s bounced back by review %s (round %d)", parent.ID, t.ID, round))
		k.metrics.ReviewsBounced.Inc()
	default:
		ev = events.NewEvent(model.EventReviewVerdict, model.LevelError,
			fmt.Sprintf("task %s escalated to human review: %s", parent.ID, outcome.BlockedReason))
		k.notifier.Push(notify.Notification{
			Title:     "Review escalation",
			Body:      fmt.Sprintf("Task %s needs human review (%s)", parent.ID, outcome.BlockedReason),
			Level:     model.LevelError,
			TaskID:    parent.ID,
			ProjectID: projectID,
		})
	}
	ev.TaskID = parent.ID
	k.appendEvent(doc, projectID, ev)
	k.publishTask(projectID, t)
	k.publishTask(projectID, parent)
}

// Fail finalizes a failed execution with the auto-retry policy. Lease
// mismatches are silent no-ops, same as Complete.
func (k *Kernel) Fail(projectID, taskID, workerID, leaseID string, res runner.Result) {
	if !k.releaseWorker(workerID, leaseID, false, res.DurationMS) {
		return
	}
	k.maybeAlertOnFailures(workerID, projectID)

	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil || t.AssignedWorker != workerID {
			return false, nil
		}
		att := t.LatestAttempt()
		if att == nil || att.LeaseID != leaseID {
			return false, nil
		}
		closeAttempt(t, "failed", &res.ExitCode, res.StderrTail, res.CommitIDs)
		k.failTask(doc, projectID, t, workerID, res.StderrTail, res.ExitCode)
		return true, nil
	})
	if err != nil {
		k.logger.Error("Failure transaction failed", "task_id", taskID, "error", err)
	}
}

// failTask applies the retry-or-fail policy to a task whose attempt just
// failed. Caller runs inside the document transaction.
func (k *Kernel) failTask(doc *model.Document, projectID string, t *model.Task, workerID, errorTail string, exitCode int) {
	t.AssignedWorker = ""
	t.ErrorLog = errorTail
	t.LastExitCode = &exitCode

	if t.RetryCount+1 < t.MaxRetries {
		t.RetryCount++
		t.Status = model.StatusPending
		delay := k.cfg.Dispatch.AutoRetryDelay
		reason := "auto_retry"
		if isRateLimited(errorTail) {
			delay = k.cfg.Dispatch.RateLimitRetryDelay
			reason = "rate_limited"
		}
		t.RetryAfter = time.Now().UTC().Add(delay).Format(time.RFC3339Nano)
		t.AddTimeline("auto_retry_scheduled", map[string]any{
			"retry_count": t.RetryCount,
			"delay":       delay.String(),
			"reason":      reason,
		})
		ev := events.NewEvent(model.EventTaskRetried, model.LevelWarning,
			fmt.Sprintf("task %s will retry in %s (attempt %d of %d, %s)",
				t.ID, delay, t.RetryCount+1, t.MaxRetries, reason))
		ev.TaskID = t.ID
		ev.WorkerID = workerID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		k.metrics.TasksRetried.Inc()
		return
	}

	t.Status = model.StatusFailed
	t.CompletedAt = model.NowISO()
	t.AddTimeline("failed", map[string]any{"retry_count": t.RetryCount})
	ev := events.NewEvent(model.EventTaskFailed, model.LevelError,
		fmt.Sprintf("task %s failed after %d attempts", t.ID, t.RetryCount+1))
	ev.TaskID = t.ID
	ev.WorkerID = workerID
	k.appendEvent(doc, projectID, ev)
	k.publishTask(projectID, t)
	k.metrics.TasksFailed.Inc()
	k.notifier.Push(notify.Notification{
		Title:     "Task failed",
		Body:      fmt.Sprintf("Task %s exhausted its retries", t.ID),
		Level:     model.LevelError,
		TaskID:    t.ID,
		ProjectID: projectID,
	})
}

// Heartbeat refreshes a busy worker's liveness window. Lease mismatches
// report false and change nothing, same as the completion callbacks.
func (k *Kernel) Heartbeat(workerID, leaseID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	w := k.findWorker(workerID)
	if w == nil || w.Status != model.WorkerBusy || w.LeaseID != leaseID {
		return false
	}
	w.Health.LastHeartbeat = model.NowISO()
	w.LastSeenAt = w.Health.LastHeartbeat
	return true
}

// releaseWorker returns a pool slot to idle after verifying the lease.
// Returns false when the lease no longer matches, which means the
// health loop already recycled the slot.
func (k *Kernel) releaseWorker(workerID, leaseID string, success bool, durationMS int64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	w := k.findWorker(workerID)
	if w == nil || w.LeaseID != leaseID {
		return false
	}
	w.Release(success)
	if success && durationMS > 0 {
		w.ObserveDuration(durationMS)
	}
	k.publishWorker(w)
	return true
}

// maybeAlertOnFailures raises the consecutive-failure alert exactly when
// the threshold is crossed.
func (k *Kernel) maybeAlertOnFailures(workerID, projectID string) {
	k.mu.Lock()
	w := k.findWorker(workerID)
	var failures int
	if w != nil {
		failures = w.Health.ConsecutiveFailures
	}
	k.mu.Unlock()
	if w == nil || failures != failureAlertThreshold {
		return
	}

	msg := fmt.Sprintf("worker %s has failed %d tasks in a row", workerID, failures)
	k.logger.Error("Worker failure streak", "worker_id", workerID, "failures", failures)
	k.notifier.Push(notify.Notification{
		Title:     "Worker failure streak",
		Body:      msg,
		Level:     model.LevelCritical,
		ProjectID: projectID,
	})
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		ev := events.NewEvent(model.EventAlertTriggered, model.LevelCritical, msg)
		ev.WorkerID = workerID
		k.appendEvent(doc, projectID, ev)
		return true, nil
	})
	if err != nil {
		k.logger.Error("Failure alert transaction failed", "worker_id", workerID, "error", err)
	}
}

// recordMergeConflict emits the warning event for an aborted merge. The
// task still completes; a human resolves the integration.
func (k *Kernel) recordMergeConflict(projectID, taskID, detail string) {
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		ev := events.NewEvent(model.EventMergeConflict, model.LevelWarning,
			fmt.Sprintf("task %s merge aborted on conflicts", taskID))
		ev.TaskID = taskID
		if detail != "" {
			ev.Meta = map[string]any{"detail": detail}
		}
		k.appendEvent(doc, projectID, ev)
		if t := doc.FindTask(taskID); t != nil {
			t.AddTimeline("merge_conflict", map[string]any{"detail": detail})
		}
		return true, nil
	})
	if err != nil {
		k.logger.Error("Merge conflict transaction failed", "task_id", taskID, "error", err)
	}
	k.metrics.MergeConflicts.Inc()
}

// loadTask reads one task outside a transaction.
func (k *Kernel) loadTask(projectID, taskID string) (*model.Task, error) {
	doc, err := k.store.ReadTasks(projectID)
	if err != nil {
		return nil, err
	}
	t := doc.FindTask(taskID)
	if t == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return t, nil
}

// closeAttempt stamps the latest attempt record.
func closeAttempt(t *model.Task, status string, exitCode *int, tail string, commits []string) {
	att := t.LatestAttempt()
	if att == nil {
		return
	}
	att.CompletedAt = model.NowISO()
	att.Status = status
	att.ExitCode = exitCode
	att.ErrorTail = tail
	att.CommitIDs = commits
}

func isRateLimited(errorTail string) bool {
	lower := strings.ToLower(errorTail)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
