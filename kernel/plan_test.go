package kernel

import (
	"strings"
	"testing"

	"github.com/c360studio/agentboard/model"
)

func TestPlanSteps(t *testing.T) {
	plan := strings.Join([]string{
		"1. Inspect the parser",
		"2) Add the new field",
		"- Wire the migration",
		"* Update the docs",
		"Step 5: Run the backfill",
		"",
		"Q: should the field be optional?",
		"Plain line without a marker",
	}, "\n")

	steps := PlanSteps(plan)
	want := []string{
		"Inspect the parser",
		"Add the new field",
		"Wire the migration",
		"Update the docs",
		"Run the backfill",
		"Plain line without a marker",
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), steps)
	}
	for i, s := range want {
		if steps[i] != s {
			t.Errorf("step %d: expected %q, got %q", i, s, steps[i])
		}
	}
}

func TestPlanStepsCap(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, "- do a thing")
	}
	if got := PlanSteps(strings.Join(lines, "\n")); len(got) != maxSubtasks {
		t.Errorf("expected %d steps, got %d", maxSubtasks, len(got))
	}
	if got := PlanSteps("Q: only questions here\n\n"); len(got) != 0 {
		t.Errorf("expected no steps, got %v", got)
	}
}

func seedPlanReviewTask(t *testing.T, k *Kernel, plan string) *model.Task {
	t.Helper()
	task, err := k.CreateTask("proj-t", CreateTaskInput{Title: "Migrate config", PlanMode: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = k.store.UpdateTasks("proj-t", func(doc *model.Document) (bool, error) {
		found := doc.FindTask(task.ID)
		found.Status = model.StatusPlanReview
		found.PlanContent = plan
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return task
}

func TestApprovePlanDecomposes(t *testing.T) {
	k := newTestKernel(t)
	task := seedPlanReviewTask(t, k, "1. Fix the crash in loader\n2. Refactor the writer")

	approved, err := k.ApprovePlan("proj-t", task.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.StatusBlockedBySubtasks {
		t.Fatalf("expected blocked_by_subtasks, got %s", approved.Status)
	}
	if len(approved.SubTasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %v", approved.SubTasks)
	}

	first, _ := k.GetTask("proj-t", approved.SubTasks[0])
	second, _ := k.GetTask("proj-t", approved.SubTasks[1])
	if len(first.DependsOn) != 0 {
		t.Errorf("first step has no dependency, got %v", first.DependsOn)
	}
	if len(second.DependsOn) != 1 || second.DependsOn[0] != first.ID {
		t.Errorf("steps chain sequentially, got %v", second.DependsOn)
	}
	if first.TaskType != model.TypeBugfix {
		t.Errorf("steps are classified from their own text, got %s", first.TaskType)
	}
	if first.Priority != task.Priority || first.SLATier != task.SLATier {
		t.Error("subtasks inherit priority and SLA")
	}
}

func TestApprovePlanWithEditedPlan(t *testing.T) {
	k := newTestKernel(t)
	task := seedPlanReviewTask(t, k, "1. Original step")

	approved, err := k.ApprovePlan("proj-t", task.ID, "1. Edited step only")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	sub, _ := k.GetTask("proj-t", approved.SubTasks[0])
	if sub.Title != "Edited step only" {
		t.Errorf("the edited plan must win, got %q", sub.Title)
	}
}

func TestApprovePlanRequeuesBlockedTask(t *testing.T) {
	k := newTestKernel(t)
	task, _ := k.CreateTask("proj-t", CreateTaskInput{Title: "escalated"})
	err := k.store.UpdateTasks("proj-t", func(doc *model.Document) (bool, error) {
		found := doc.FindTask(task.ID)
		found.Status = model.StatusPlanReview
		found.BlockedReason = "review_parse_failed"
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	approved, err := k.ApprovePlan("proj-t", task.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.StatusPending || approved.BlockedReason != "" {
		t.Errorf("a non-plan task must re-queue, got %s/%q", approved.Status, approved.BlockedReason)
	}
}

func TestApprovePlanWrongState(t *testing.T) {
	k := newTestKernel(t)
	task, _ := k.CreateTask("proj-t", CreateTaskInput{Title: "still pending"})
	if _, err := k.ApprovePlan("proj-t", task.ID, ""); err == nil {
		t.Error("only plan-review tasks can be approved")
	}
}

func TestRejectPlan(t *testing.T) {
	k := newTestKernel(t)
	task := seedPlanReviewTask(t, k, "1. Wrong approach")

	rejected, err := k.RejectPlan("proj-t", task.ID, "start from the schema instead")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.StatusPending {
		t.Errorf("expected pending for a replan, got %s", rejected.Status)
	}
	if rejected.PlanContent != "" {
		t.Error("the rejected plan must be cleared")
	}
	if !strings.Contains(rejected.Description, "start from the schema instead") {
		t.Errorf("notes must land in the description, got %q", rejected.Description)
	}
}

func TestAddSubtasks(t *testing.T) {
	k := newTestKernel(t)
	task, _ := k.CreateTask("proj-t", CreateTaskInput{Title: "big feature", Priority: model.PriorityHigh})

	parent, err := k.AddSubtasks("proj-t", task.ID, []SubtaskInput{
		{Title: "Fix the loader crash"},
		{Title: "write docs", TaskType: model.TypeFeature, Engine: model.EngineB, Priority: model.PriorityLow},
	})
	if err != nil {
		t.Fatalf("add subtasks: %v", err)
	}
	if parent.Status != model.StatusBlockedBySubtasks {
		t.Fatalf("expected blocked_by_subtasks, got %s", parent.Status)
	}
	if len(parent.SubTasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %v", parent.SubTasks)
	}

	first, _ := k.GetTask("proj-t", parent.SubTasks[0])
	if first.TaskType != model.TypeBugfix {
		t.Errorf("untyped subtasks are classified, got %s", first.TaskType)
	}
	if first.Priority != model.PriorityHigh {
		t.Errorf("untyped subtasks inherit the parent priority, got %s", first.Priority)
	}
	second, _ := k.GetTask("proj-t", parent.SubTasks[1])
	if second.Engine != model.EngineB || second.Priority != model.PriorityLow {
		t.Errorf("explicit fields must win, got %s/%s", second.Engine, second.Priority)
	}
}

func TestAddSubtasksValidation(t *testing.T) {
	k := newTestKernel(t)
	task, _ := k.CreateTask("proj-t", CreateTaskInput{Title: "x"})

	if _, err := k.AddSubtasks("proj-t", task.ID, nil); err == nil {
		t.Error("empty input must be rejected")
	}
	if _, err := k.AddSubtasks("proj-t", task.ID, []SubtaskInput{{}}); err == nil {
		t.Error("a subtask without a title must be rejected")
	}
	var many []SubtaskInput
	for i := 0; i < maxSubtasks+1; i++ {
		many = append(many, SubtaskInput{Title: "step"})
	}
	if _, err := k.AddSubtasks("proj-t", task.ID, many); err == nil {
		t.Error("the subtask cap applies to manual decomposition too")
	}
}

func TestDecomposeTaskGuards(t *testing.T) {
	k := newTestKernel(t)
	task, _ := k.CreateTask("proj-t", CreateTaskInput{Title: "no plan yet"})
	if _, err := k.DecomposeTask("proj-t", task.ID); err == nil {
		t.Error("a task without plan content cannot be decomposed")
	}

	withPlan := seedPlanReviewTask(t, k, "1. One step")
	if _, err := k.DecomposeTask("proj-t", withPlan.ID); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if _, err := k.DecomposeTask("proj-t", withPlan.ID); err == nil {
		t.Error("a task with subtasks cannot be decomposed again")
	}
}
