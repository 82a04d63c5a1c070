package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/agentboard/model"
)

func TestReadyTasksFiltersAndOrders(t *testing.T) {
	now := time.Now()
	doc := model.NewDocument()
	doc.Tasks = []*model.Task{
		{ID: "task-001", Status: model.StatusPending, SLATier: model.SLAStandard, Priority: model.PriorityHigh, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "task-002", Status: model.StatusPending, SLATier: model.SLAUrgent, Priority: model.PriorityLow, CreatedAt: "2026-01-02T00:00:00Z"},
		{ID: "task-003", Status: model.StatusCompleted, SLATier: model.SLAUrgent, Priority: model.PriorityHigh},
		{ID: "task-004", Status: model.StatusPending, SLATier: model.SLAStandard, Priority: model.PriorityHigh, CreatedAt: "2026-01-03T00:00:00Z",
			RetryAfter: now.Add(time.Hour).UTC().Format(time.RFC3339Nano)},
		{ID: "task-005", Status: model.StatusPending, SLATier: model.SLAStandard, Priority: model.PriorityMedium, CreatedAt: "2025-12-01T00:00:00Z"},
		{ID: "task-006", Status: model.StatusPending, SLATier: model.SLAStandard, Priority: model.PriorityHigh, CreatedAt: "2025-12-31T00:00:00Z"},
		{ID: "task-007", Status: model.StatusPending, DependsOn: []string{"task-001"}},
	}

	got := readyTasks(doc, now)
	want := []string{"task-002", "task-006", "task-001", "task-005"}
	if len(got) != len(want) {
		t.Fatalf("expected %d ready tasks, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestReadyTasksSLADominatesPriority(t *testing.T) {
	doc := model.NewDocument()
	doc.Tasks = []*model.Task{
		{ID: "task-001", Status: model.StatusPending, SLATier: model.SLAStandard, Priority: model.PriorityHigh},
		{ID: "task-002", Status: model.StatusPending, SLATier: model.SLAExpedite, Priority: model.PriorityLow},
	}
	got := readyTasks(doc, time.Now())
	if got[0].ID != "task-002" {
		t.Errorf("a low-priority expedite outranks a high-priority standard, got %s first", got[0].ID)
	}
}

func TestPickWorker(t *testing.T) {
	if pickWorker(nil) != nil {
		t.Error("no candidates yields nil")
	}
	a := &model.Worker{ID: "worker-0", TotalCompleted: 9}
	b := &model.Worker{ID: "worker-1", TotalCompleted: 2}
	c := &model.Worker{ID: "worker-2", TotalCompleted: 0}
	c.Health.ConsecutiveFailures = 2

	if got := pickWorker([]*model.Worker{a, b, c}); got.ID != "worker-1" {
		t.Errorf("expected the least-loaded healthy slot, got %s", got.ID)
	}
}

func TestRemoveWorker(t *testing.T) {
	a := &model.Worker{ID: "worker-0"}
	b := &model.Worker{ID: "worker-1"}
	got := removeWorker([]*model.Worker{a, b}, "worker-0")
	if len(got) != 1 || got[0].ID != "worker-1" {
		t.Errorf("unexpected remainder %v", got)
	}
	got = removeWorker(got, "worker-404")
	if len(got) != 1 {
		t.Errorf("removing an unknown id must be a no-op, got %v", got)
	}
}

func TestIdleWorkersLocked(t *testing.T) {
	k := newTestKernel(t)
	markCLIsAvailable(k)
	k.mu.Lock()
	k.workers[0].Status = model.WorkerBusy
	k.workers[1].CLIAvailable = false
	k.workers[2].Health.ConsecutiveFailures = k.cfg.Workers.MaxConsecutiveFailures
	idle := k.idleWorkersLocked()
	k.mu.Unlock()

	if len(idle[model.EngineA]) != 0 {
		t.Errorf("busy, unavailable and capped slots must not count, got %v", idle[model.EngineA])
	}
	if len(idle[model.EngineB]) != 2 {
		t.Errorf("expected both engine-b slots idle, got %d", len(idle[model.EngineB]))
	}
}

func TestDispatchFallsBackWhenEngineBusy(t *testing.T) {
	k := newTestKernel(t)
	seedActiveProject(t, k, "proj-fb")
	// Only engine-b has capacity.
	k.mu.Lock()
	for _, w := range k.workers {
		w.CLIAvailable = w.Engine == model.EngineB
	}
	k.mu.Unlock()

	task, err := k.CreateTask("proj-fb", CreateTaskInput{Title: "x", TaskType: model.TypeFeature})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	k.dispatchCycle(context.Background())
	k.wg.Wait()

	got, _ := k.GetTask("proj-fb", task.ID)
	if got.RoutedEngine != model.EngineB {
		t.Fatalf("expected fallback to engine-b, got %s", got.RoutedEngine)
	}
	if got.FallbackReason != "no_idle_engine-a" {
		t.Errorf("unexpected fallback reason %q", got.FallbackReason)
	}

	evs, _ := k.Events("proj-fb")
	found := false
	for _, ev := range evs {
		if ev.Type == model.EventEngineFallback {
			found = true
		}
	}
	if !found {
		t.Error("an engine_fallback warning must be recorded")
	}
}

func TestDispatchAlertsWhenPoolUnhealthy(t *testing.T) {
	k := newTestKernel(t)
	seedActiveProject(t, k, "proj-al")
	if _, err := k.CreateTask("proj-al", CreateTaskInput{Title: "stranded work"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	alerts := func() int {
		evs, _ := k.Events("proj-al")
		n := 0
		for _, ev := range evs {
			if ev.Type == model.EventAlertTriggered && ev.Level == model.LevelCritical {
				n++
			}
		}
		return n
	}

	// No CLI resolves anywhere in the pool.
	k.dispatchCycle(context.Background())
	k.wg.Wait()
	if alerts() != 1 {
		t.Fatalf("an unhealthy pool must alert on the first cycle, got %d", alerts())
	}

	k.dispatchCycle(context.Background())
	k.wg.Wait()
	if alerts() != 2 {
		t.Errorf("the alert repeats once per cycle while the outage lasts, got %d", alerts())
	}
}

func TestNoAlertWhenPoolBusyButHealthy(t *testing.T) {
	k := newTestKernel(t)
	seedActiveProject(t, k, "proj-bz")
	markCLIsAvailable(k)
	k.mu.Lock()
	for _, w := range k.workers {
		w.Status = model.WorkerBusy
	}
	k.mu.Unlock()
	if _, err := k.CreateTask("proj-bz", CreateTaskInput{Title: "queued work"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	k.dispatchCycle(context.Background())
	k.wg.Wait()

	evs, _ := k.Events("proj-bz")
	for _, ev := range evs {
		if ev.Type == model.EventAlertTriggered {
			t.Fatalf("a busy healthy pool is backlog, not an outage: %s", ev.Message)
		}
	}
}

func TestDispatchEmitsClaimEvent(t *testing.T) {
	k := newTestKernel(t)
	seedActiveProject(t, k, "proj-cl")
	markCLIsAvailable(k)
	task, err := k.CreateTask("proj-cl", CreateTaskInput{Title: "x", TaskType: model.TypeFeature})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	k.dispatchCycle(context.Background())
	k.wg.Wait()

	evs, _ := k.Events("proj-cl")
	var dispatched, claimed bool
	for _, ev := range evs {
		switch ev.Type {
		case model.EventTaskDispatched:
			dispatched = true
		case model.EventWorkerClaimed:
			claimed = true
			if ev.TaskID != task.ID || ev.WorkerID == "" {
				t.Errorf("the claim event must name the pairing: %+v", ev)
			}
		}
	}
	if !dispatched || !claimed {
		t.Errorf("assignment records both task_dispatched and worker_claimed, got %v/%v", dispatched, claimed)
	}
}

func TestDispatchDisabled(t *testing.T) {
	k := newTestKernel(t)
	seedActiveProject(t, k, "proj-off")
	markCLIsAvailable(k)
	task, _ := k.CreateTask("proj-off", CreateTaskInput{Title: "x"})

	k.SetDispatchEnabled(false)
	k.dispatchCycle(context.Background())
	k.wg.Wait()

	got, _ := k.GetTask("proj-off", task.ID)
	if got.Status != model.StatusPending {
		t.Errorf("paused dispatch must not assign work, got %s", got.Status)
	}
}

func TestRollUpParents(t *testing.T) {
	k := newTestKernel(t)
	doc := model.NewDocument()
	parent := &model.Task{ID: "task-001", Status: model.StatusBlockedBySubtasks, SubTasks: []string{"task-002", "task-003"}}
	doc.Tasks = []*model.Task{
		parent,
		{ID: "task-002", Status: model.StatusCompleted},
		{ID: "task-003", Status: model.StatusPending},
	}
	if k.rollUpParents(doc, "proj-t") {
		t.Error("an unfinished subtask must hold the parent")
	}
	doc.FindTask("task-003").Status = model.StatusCompleted
	if !k.rollUpParents(doc, "proj-t") {
		t.Fatal("all subtasks done must roll the parent up")
	}
	if parent.Status != model.StatusCompleted {
		t.Errorf("expected completed parent, got %s", parent.Status)
	}
}
