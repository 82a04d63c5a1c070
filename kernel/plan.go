package kernel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/agentboard/events"
	"github.com/c360studio/agentboard/model"
)

// maxSubtasks bounds how many subtasks one plan decomposes into.
const maxSubtasks = 8

// stepMarkerPattern strips bullet and ordinal markers from plan lines:
// "- step", "* step", "1. step", "2) step", "Step 3: step".
var stepMarkerPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)]|[Ss]tep\s+\d+:?)\s*`)

// ApprovePlan resolves a task sitting in plan review. Approval of a
// plan-mode task decomposes the plan into subtasks; approval of a task
// blocked by the review flow re-queues it. An edited plan, when given,
// replaces the generated one before decomposition.
func (k *Kernel) ApprovePlan(projectID, taskID, editedPlan string) (*model.Task, error) {
	var approved *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusPlanReview {
			return false, fmt.Errorf("task %s is %s, not awaiting plan review", taskID, t.Status)
		}
		if editedPlan != "" {
			t.PlanContent = editedPlan
		}

		if t.PlanMode && t.PlanContent != "" {
			if err := k.decompose(doc, projectID, t); err != nil {
				return false, err
			}
		} else {
			// Blocked by the review flow or approved without a plan:
			// back to the queue.
			t.Status = model.StatusPending
			t.BlockedReason = ""
		}
		t.AddTimeline("plan_approved", nil)
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s plan approved", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		approved = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RejectPlan sends a plan-review task back for another planning pass
// with the reviewer's notes appended to the description.
func (k *Kernel) RejectPlan(projectID, taskID, notes string) (*model.Task, error) {
	var rejected *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusPlanReview {
			return false, fmt.Errorf("task %s is %s, not awaiting plan review", taskID, t.Status)
		}
		t.PlanContent = ""
		t.PlanQuestions = nil
		t.Status = model.StatusPending
		if notes != "" {
			t.Description = strings.TrimSpace(t.Description + "\n\nPlan feedback: " + notes)
		}
		t.AddTimeline("plan_rejected", map[string]any{"notes": notes})
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s plan rejected, replanning", taskID))
		ev.TaskID = taskID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		rejected = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// DecomposeTask decomposes a task's plan content on demand, outside the
// plan-review flow.
func (k *Kernel) DecomposeTask(projectID, taskID string) (*model.Task, error) {
	var parent *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusPending && t.Status != model.StatusPlanReview {
			return false, fmt.Errorf("task %s is %s and cannot be decomposed", taskID, t.Status)
		}
		if t.PlanContent == "" {
			return false, fmt.Errorf("task %s has no plan content", taskID)
		}
		if len(t.SubTasks) > 0 {
			return false, fmt.Errorf("task %s already has subtasks", taskID)
		}
		if err := k.decompose(doc, projectID, t); err != nil {
			return false, err
		}
		k.publishTask(projectID, t)
		parent = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// SubtaskInput is one operator-provided subtask for manual decomposition.
type SubtaskInput struct {
	Title       string
	Description string
	TaskType    model.TaskType
	Engine      model.Engine
	Priority    model.Priority
}

// AddSubtasks decomposes a task from explicit operator-provided subtask
// inputs rather than generated plan content. The parent blocks on them
// the same way the plan-driven path does.
func (k *Kernel) AddSubtasks(projectID, taskID string, inputs []SubtaskInput) (*model.Task, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one subtask is required")
	}
	if len(inputs) > maxSubtasks {
		return nil, fmt.Errorf("at most %d subtasks per decomposition", maxSubtasks)
	}
	var parent *model.Task
	err := k.store.UpdateTasks(projectID, func(doc *model.Document) (bool, error) {
		t := doc.FindTask(taskID)
		if t == nil {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		if t.Status != model.StatusPending && t.Status != model.StatusPlanReview {
			return false, fmt.Errorf("task %s is %s and cannot be decomposed", taskID, t.Status)
		}
		if len(t.SubTasks) > 0 {
			return false, fmt.Errorf("task %s already has subtasks", taskID)
		}
		for _, in := range inputs {
			if in.Title == "" {
				return false, fmt.Errorf("subtask title is required")
			}
			if in.TaskType != "" && !model.TaskTypes[in.TaskType] {
				return false, fmt.Errorf("unknown task type %q", in.TaskType)
			}
			sub := &model.Task{
				ID:           doc.NextTaskID(),
				ParentTaskID: t.ID,
				Title:        in.Title,
				Description:  in.Description,
				TaskType:     in.TaskType,
				Priority:     in.Priority,
				SLATier:      t.SLATier,
				Engine:       in.Engine,
				Status:       model.StatusPending,
				CreatedAt:    model.NowISO(),
			}
			if sub.TaskType == "" {
				sub.TaskType = k.router.Classify(sub.Title, sub.Description)
			}
			if sub.Priority == "" {
				sub.Priority = t.Priority
			}
			sub.EnsureShape()
			sub.AddTimeline("created", map[string]any{"parent_task_id": t.ID})
			doc.Tasks = append(doc.Tasks, sub)
			t.SubTasks = append(t.SubTasks, sub.ID)
			k.publishTask(projectID, sub)
		}
		t.Status = model.StatusBlockedBySubtasks
		t.AddTimeline("decomposed", map[string]any{"subtasks": len(inputs)})
		ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
			fmt.Sprintf("task %s decomposed into %d subtasks", t.ID, len(inputs)))
		ev.TaskID = t.ID
		k.appendEvent(doc, projectID, ev)
		k.publishTask(projectID, t)
		parent = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// decompose turns the parent's plan content into subtasks and blocks
// the parent on them. Each step is re-classified from its own text.
func (k *Kernel) decompose(doc *model.Document, projectID string, parent *model.Task) error {
	steps := PlanSteps(parent.PlanContent)
	if len(steps) == 0 {
		return fmt.Errorf("plan for task %s contains no steps", parent.ID)
	}

	var prevID string
	for _, step := range steps {
		sub := &model.Task{
			ID:           doc.NextTaskID(),
			ParentTaskID: parent.ID,
			Title:        step,
			Description:  fmt.Sprintf("Subtask of %s (%s): %s", parent.ID, parent.Title, step),
			TaskType:     k.router.Classify(step, ""),
			Priority:     parent.Priority,
			SLATier:      parent.SLATier,
			Engine:       model.EngineAuto,
			Status:       model.StatusPending,
			CreatedAt:    model.NowISO(),
		}
		// Steps run in plan order.
		if prevID != "" {
			sub.DependsOn = []string{prevID}
		}
		sub.EnsureShape()
		sub.AddTimeline("created_from_plan", map[string]any{"parent_task_id": parent.ID})
		doc.Tasks = append(doc.Tasks, sub)
		parent.SubTasks = append(parent.SubTasks, sub.ID)
		prevID = sub.ID
		k.publishTask(projectID, sub)
	}

	parent.Status = model.StatusBlockedBySubtasks
	parent.AddTimeline("decomposed", map[string]any{"subtasks": len(steps)})
	ev := events.NewEvent(model.EventTaskUpdated, model.LevelInfo,
		fmt.Sprintf("task %s decomposed into %d subtasks", parent.ID, len(steps)))
	ev.TaskID = parent.ID
	k.appendEvent(doc, projectID, ev)
	return nil
}

// PlanSteps extracts up to maxSubtasks step lines from plan content,
// stripping bullet and ordinal markers. Open-question lines and blanks
// are skipped.
func PlanSteps(plan string) []string {
	var steps []string
	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "Q:") {
			continue
		}
		step := strings.TrimSpace(stepMarkerPattern.ReplaceAllString(trimmed, ""))
		if step == "" {
			continue
		}
		steps = append(steps, step)
		if len(steps) == maxSubtasks {
			break
		}
	}
	return steps
}
