package kernel

import (
	"fmt"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
)

// CreateTaskInput carries the fields a new task is built from. Zero
// values get classified or defaulted.
type CreateTaskInput struct {
	Title              string
	Description        string
	TaskType           model.TaskType
	Priority           model.Priority
	SLATier            model.SLATier
	Engine             model.Engine
	DependsOn          []string
	ParentTaskID       string
	PlanMode           bool
	MaxRetries         int
	AcceptanceCriteria string
}

// CreateTask validates, classifies, and persists a new task.
func (k *Kernel) CreateTask(projectID string, in CreateTaskInput) (*model.Task, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if in.TaskType != "" && !model.TaskTypes[in.TaskType] {
		return nil, fmt.Errorf("unknown task type %q", in.TaskType)
	}
	if in.Engine != "" && in.Engine != model.EngineAuto && !in.Engine.Valid() {
		return nil, fmt.Errorf("unknown engine %q", in.Engine)
	}

	var created *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		for _, depID := range in.DependsOn {
			if doc.FindTask(depID) == nil {
				return false, fmt.Errorf("dependency %s not found", depID)
			}
		}
		if in.ParentTaskID != "" && doc.FindTask(in.ParentTaskID) == nil {
			return false, fmt.Errorf("parent task %s not found", in.ParentTaskID)
		}

		t := &model.Task{
			ID:                 doc.NextTaskID(),
			ParentTaskID:       in.ParentTaskID,
			DependsOn:          append([]string{}, in.DependsOn...),
			Title:              in.Title,
			Description:        in.Description,
			TaskType:           in.TaskType,
			Priority:           in.Priority,
			SLATier:            in.SLATier,
			Engine:             in.Engine,
			Status:             model.StatusPending,
			PlanMode:           in.PlanMode,
			MaxRetries:         in.MaxRetries,
			AcceptanceCriteria: in.AcceptanceCriteria,
			CreatedAt:          model.NowISO(),
		}
		if t.TaskType == "" {
			t.TaskType = k.router.Classify(t.Title, t.Description)
		}
		t.EnsureShape()
		t.AddTimeline("created", nil)
		doc.Tasks = append(doc.Tasks, t)

		if in.ParentTaskID != "" {
			parent := doc.FindTask(in.ParentTaskID)
			parent.SubTasks = append(parent.SubTasks, t.ID)
		}

		ev := events.NewEvent(model.EventTaskCreated, model.LevelInfo,
			fmt.Sprintf("task %s created: %s", t.ID, t.Title))
		ev.TaskID = t.ID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		created = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTask reads one task.
func (k *Kernel) GetTask(projectID, taskID string) (*model.Task, error) {
	return k.loadTask(projectID, taskID)
}

// ListTasks reads a project's full task list.
func (k *Kernel) ListTasks(projectID string) ([]*model.Task, error) {
	doc, err := k.store.ReadTasks(projectID)
	if err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}

// UpdateTaskInput carries editable fields; nil means unchanged.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Priority    *model.Priority
	SLATier     *model.SLATier
	Engine      *model.Engine
	DependsOn   *[]string
}

// UpdateTask edits descriptive fields of a task. Status moves only
// through the dedicated operations; in-flight tasks cannot be edited.
func (k *Kernel) UpdateTask(projectID, taskID string, in UpdateTaskInput) (*model.Task, error) {
	var updated *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status == model.StatusInProgress || t.Status == model.StatusReviewing {
			return false, fmt.Errorf("task %s is in flight and cannot be edited", taskID)
		}
		if in.Title != nil {
			if *in.Title == "" {
				return false, fmt.Errorf("task title cannot be empty")
			}
			t.Title = *in.Title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Priority != nil {
			t.Priority = *in.Priority
		}
		if in.SLATier != nil {
			t.SLATier = *in.SLATier
		}
		if in.Engine != nil {
			if *in.Engine != model.EngineAuto && !in.Engine.Valid() {
				return false, fmt.Errorf("unknown engine %q", *in.Engine)
			}
			t.Engine = *in.Engine
		}
		if in.DependsOn != nil {
			for _, depID := range *in.DependsOn {
				if depID == taskID {
					return false, fmt.Errorf("task cannot depend on itself")
				}
				if doc.FindTask(depID) == nil {
					return false, fmt.Errorf("dependency %s not found", depID)
				}
			}
			t.DependsOn = append([]string{}, (*in.DependsOn)...)
		}
		t.AddTimeline("updated", nil)
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s updated", t.ID))
		ev.TaskID = t.ID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		updated = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes a task and scrubs every reference to it from other
// tasks, so no dangling dependency or subtask pointer survives. A running
// task's process is killed and its worker released.
func (k *Kernel) DeleteTask(projectID, taskID string) error {
	var workerID string
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		idx := -1
		for i, t := range doc.Tasks {
			if t.ID == taskID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if doc.Tasks[idx].Status == model.StatusInProgress {
			workerID = doc.Tasks[idx].AssignedWorker
		}
		doc.Tasks = append(doc.Tasks[:idx], doc.Tasks[idx+1:]...)

		for _, t := range doc.Tasks {
			t.DependsOn = removeString(t.DependsOn, taskID)
			t.SubTasks = removeString(t.SubTasks, taskID)
			if t.ParentTaskID == taskID {
				t.ParentTaskID = ""
			}
		}

		ev := events.NewEvent(model.EventTaskDeleted, model.LevelInfo,
			fmt.Sprintf("task %s deleted", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.bus.Publish(events.Envelope{
			Kind:      events.KindTaskDeleted,
			ProjectID: projectID,
			TaskID:    taskID,
			At:        model.NowISO(),
		})
		return true, nil
	})
	if err != nil {
		return err
	}
	if workerID != "" {
		k.mu.Lock()
		if cancel, ok := k.runs[workerID]; ok {
			cancel()
		}
		if w := k.findWorker(workerID); w != nil && w.CurrentTaskID == taskID {
			w.ReleaseNeutral()
			k.publishWorker(w)
		}
		k.mu.Unlock()
	}
	return nil
}

// CancelTask stops a task. A running task's process is killed; its
// worker is released through the lease check when the run unwinds.
func (k *Kernel) CancelTask(projectID, taskID string) error {
	var wasRunning bool
	var workerID string
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Terminal() {
			return false, fmt.Errorf("task %s is already %s", taskID, t.Status)
		}
		wasRunning = t.Status == model.StatusInProgress
		workerID = t.AssignedWorker
		t.Status = model.StatusCancelled
		t.CompletedAt = model.NowISO()
		t.AssignedWorker = ""
		t.RetryAfter = ""
		if att := t.LatestAttempt(); att != nil && att.CompletedAt == "" {
			closeAttempt(t, "cancelled", nil, "", nil)
		}
		t.AddTimeline("cancelled", nil)
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s cancelled", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		return true, nil
	})
	if err != nil {
		return err
	}
	if wasRunning && workerID != "" {
		k.mu.Lock()
		if cancel, ok := k.runs[workerID]; ok {
			cancel()
		}
		if w := k.findWorker(workerID); w != nil && w.CurrentTaskID == taskID {
			w.ReleaseNeutral()
			k.publishWorker(w)
		}
		k.mu.Unlock()
	}
	return nil
}

// RetryTask is the manual retry: it resets the retry budget and queues
// the task fresh, unlike the automatic path which consumes the budget.
func (k *Kernel) RetryTask(projectID, taskID string) (*model.Task, error) {
	var retried *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusFailed && t.Status != model.StatusCancelled {
			return false, fmt.Errorf("task %s is %s, only failed or cancelled tasks can be retried", taskID, t.Status)
		}
		t.Status = model.StatusPending
		t.RetryCount = 0
		t.RetryAfter = ""
		t.ErrorLog = ""
		t.BlockedReason = ""
		t.AssignedWorker = ""
		t.CompletedAt = ""
		t.AddTimeline("manual_retry", nil)
		ev := events.NewEvent(model.EventTaskRetried, model.LevelInfo,
			fmt.Sprintf("task %s queued for manual retry", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		retried = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return retried, nil
}

// UnblockTask releases a task parked in plan review by the review flow
// (parse failure or exhausted rounds) back to the queue.
func (k *Kernel) UnblockTask(projectID, taskID string) (*model.Task, error) {
	var unblocked *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusPlanReview || t.BlockedReason == "" {
			return false, fmt.Errorf("task %s is not blocked", taskID)
		}
		t.Status = model.StatusPending
		t.BlockedReason = ""
		t.ReviewRound = 0
		t.ReviewFeedback = ""
		t.AddTimeline("unblocked", nil)
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s unblocked", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		unblocked = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return unblocked, nil
}

// AcknowledgeEvent marks an event ring entry as seen.
func (k *Kernel) AcknowledgeEvent(projectID, eventID, by string) error {
	return k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		for _, ev := range doc.Events {
			if ev.ID != eventID {
				continue
			}
			if ev.Acknowledged {
				return false, nil
			}
			ev.Acknowledged = true
			ev.AcknowledgedAt = model.NowISO()
			ev.AcknowledgedBy = by
			return true, nil
		}
		return false, fmt.Errorf("event %s not found", eventID)
	})
}

// Events reads a project's event ring.
func (k *Kernel) Events(projectID string) ([]*model.Event, error) {
	doc, err := k.store.ReadTasks(projectID)
	if err != nil {
		return nil, err
	}
	return doc.Events, nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
