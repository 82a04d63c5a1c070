package model

import "testing"

func TestNextTaskID(t *testing.T) {
	doc := NewDocument()
	if got := doc.NextTaskID(); got != "task-001" {
		t.Errorf("empty document: expected task-001, got %s", got)
	}

	doc.Tasks = append(doc.Tasks,
		&Task{ID: "task-001"},
		&Task{ID: "task-017"},
		&Task{ID: "not-a-task-id"},
	)
	if got := doc.NextTaskID(); got != "task-018" {
		t.Errorf("expected task-018, got %s", got)
	}
}

func TestRecomputeMeta(t *testing.T) {
	doc := NewDocument()
	doc.Tasks = []*Task{
		{ID: "task-001", Status: StatusCompleted, RoutedEngine: EngineA},
		{ID: "task-002", Status: StatusCompleted, RoutedEngine: EngineB},
		{ID: "task-003", Status: StatusFailed, RoutedEngine: EngineA},
		{ID: "task-004", Status: StatusPending},
	}
	doc.RecomputeMeta()

	if doc.Meta.TotalCompleted != 2 {
		t.Errorf("expected 2 completed, got %d", doc.Meta.TotalCompleted)
	}
	want := 2.0 / 3.0
	if doc.Meta.SuccessRate < want-0.001 || doc.Meta.SuccessRate > want+0.001 {
		t.Errorf("expected success rate %.3f, got %.3f", want, doc.Meta.SuccessRate)
	}
	if doc.Meta.EngineATasks != 2 || doc.Meta.EngineBTasks != 1 {
		t.Errorf("expected engine split 2/1, got %d/%d", doc.Meta.EngineATasks, doc.Meta.EngineBTasks)
	}
	if doc.Meta.LastUpdated == "" {
		t.Error("LastUpdated must be stamped")
	}
}

func TestRecomputeMetaEmptyDocument(t *testing.T) {
	doc := NewDocument()
	doc.RecomputeMeta()
	if doc.Meta.SuccessRate != 0 {
		t.Errorf("empty document success rate must be 0, got %f", doc.Meta.SuccessRate)
	}
}

func TestDependenciesSatisfied(t *testing.T) {
	doc := NewDocument()
	doc.Tasks = []*Task{
		{ID: "task-001", Status: StatusCompleted},
		{ID: "task-002", Status: StatusReviewing},
		{ID: "task-003", Status: StatusPending},
	}

	cases := []struct {
		name string
		task *Task
		want bool
	}{
		{"no deps", &Task{ID: "t"}, true},
		{"completed dep", &Task{DependsOn: []string{"task-001"}}, true},
		{"reviewing dep blocks normal task", &Task{DependsOn: []string{"task-002"}}, false},
		{"reviewing dep satisfies review task", &Task{TaskType: TypeReview, DependsOn: []string{"task-002"}}, true},
		{"pending dep blocks review task", &Task{TaskType: TypeReview, DependsOn: []string{"task-003"}}, false},
		{"missing dep blocks", &Task{DependsOn: []string{"task-999"}}, false},
		{"one unmet among many", &Task{DependsOn: []string{"task-001", "task-003"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := doc.DependenciesSatisfied(tc.task); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDocumentEnsureShape(t *testing.T) {
	doc := &Document{Tasks: []*Task{{ID: "task-001"}}}
	doc.EnsureShape()
	if doc.Events == nil {
		t.Error("events must be non-nil")
	}
	if doc.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, doc.SchemaVersion)
	}
	if doc.Tasks[0].Status != StatusPending {
		t.Error("nested tasks must be shaped")
	}
}

func TestFindTask(t *testing.T) {
	doc := NewDocument()
	doc.Tasks = []*Task{{ID: "task-001"}, {ID: "task-002"}}
	if doc.FindTask("task-002") == nil {
		t.Error("expected to find task-002")
	}
	if doc.FindTask("task-404") != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestWorkerRelease(t *testing.T) {
	w := &Worker{
		ID:            "worker-0",
		Status:        WorkerBusy,
		CurrentTaskID: "task-001",
		LeaseID:       "lease-abc123def456",
		Health:        WorkerHealth{ConsecutiveFailures: 2},
	}
	w.Release(true)
	if w.Status != WorkerIdle || w.CurrentTaskID != "" || w.LeaseID != "" {
		t.Error("release must clear bindings")
	}
	if w.Health.ConsecutiveFailures != 0 {
		t.Error("success must reset the failure streak")
	}
	if w.TotalCompleted != 1 {
		t.Errorf("expected 1 completion, got %d", w.TotalCompleted)
	}

	w.Status = WorkerBusy
	w.Release(false)
	if w.Health.ConsecutiveFailures != 1 {
		t.Errorf("failure must increment the streak, got %d", w.Health.ConsecutiveFailures)
	}
	if w.TotalCompleted != 1 {
		t.Error("failure must not bump completions")
	}
}

func TestWorkerReleaseNeutral(t *testing.T) {
	w := &Worker{
		ID:             "worker-0",
		Status:         WorkerBusy,
		CurrentTaskID:  "task-001",
		LeaseID:        "lease-abc123def456",
		PID:            77,
		TotalCompleted: 3,
		Health:         WorkerHealth{ConsecutiveFailures: 2},
	}
	w.ReleaseNeutral()
	if w.Status != WorkerIdle || w.CurrentTaskID != "" || w.LeaseID != "" || w.PID != 0 {
		t.Error("neutral release must clear bindings")
	}
	if w.TotalCompleted != 3 || w.Health.ConsecutiveFailures != 2 {
		t.Errorf("neutral release must not touch accounting: %d/%d",
			w.TotalCompleted, w.Health.ConsecutiveFailures)
	}
}

func TestObserveDuration(t *testing.T) {
	w := &Worker{}
	w.ObserveDuration(1000)
	if w.Health.AvgTaskDurationMS != 1000 {
		t.Errorf("first sample sets the average, got %d", w.Health.AvgTaskDurationMS)
	}
	w.ObserveDuration(2000)
	// 1000*0.8 + 2000*0.2 = 1200
	if w.Health.AvgTaskDurationMS != 1200 {
		t.Errorf("expected 1200, got %d", w.Health.AvgTaskDurationMS)
	}
}
