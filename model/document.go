package model

import (
	"strconv"
	"strings"
)

// SchemaVersion is stamped on every written document.
const SchemaVersion = 2

// Meta is recomputed on every document write.
type Meta struct {
	LastUpdated    string  `json:"last_updated"`
	TotalCompleted int     `json:"total_completed"`
	SuccessRate    float64 `json:"success_rate"`
	EngineATasks   int     `json:"engine_a_tasks"`
	EngineBTasks   int     `json:"engine_b_tasks"`
	SchemaVersion  int     `json:"schema_version"`
}

// Document is the per-project tasks.json payload.
type Document struct {
	SchemaVersion int      `json:"schema_version"`
	Tasks         []*Task  `json:"tasks"`
	Events        []*Event `json:"events"`
	Meta          Meta     `json:"meta"`
}

// NewDocument returns an empty, shaped document.
func NewDocument() *Document {
	return &Document{
		SchemaVersion: SchemaVersion,
		Tasks:         []*Task{},
		Events:        []*Event{},
		Meta:          Meta{SchemaVersion: SchemaVersion},
	}
}

// EnsureShape normalizes a document read back from disk.
func (d *Document) EnsureShape() {
	if d.Tasks == nil {
		d.Tasks = []*Task{}
	}
	if d.Events == nil {
		d.Events = []*Event{}
	}
	for _, t := range d.Tasks {
		t.EnsureShape()
	}
	if d.SchemaVersion == 0 {
		d.SchemaVersion = SchemaVersion
	}
}

// FindTask returns the task with the given id, or nil.
func (d *Document) FindTask(id string) *Task {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// NextTaskID allocates the next monotonic task id for this document.
func (d *Document) NextTaskID() string {
	max := 0
	for _, t := range d.Tasks {
		raw := strings.TrimPrefix(t.ID, "task-")
		if raw == t.ID {
			continue
		}
		if n, err := strconv.Atoi(raw); err == nil && n > max {
			max = n
		}
	}
	return FormatTaskID(max + 1)
}

// RecomputeMeta refreshes the aggregate counters. Called by the store on
// every write so meta never drifts from the task list.
func (d *Document) RecomputeMeta() {
	completed, failed, aTasks, bTasks := 0, 0, 0, 0
	for _, t := range d.Tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
		switch t.RoutedEngine {
		case EngineA:
			aTasks++
		case EngineB:
			bTasks++
		}
	}
	denom := completed + failed
	if denom < 1 {
		denom = 1
	}
	d.Meta.TotalCompleted = completed
	d.Meta.SuccessRate = float64(completed) / float64(denom)
	d.Meta.EngineATasks = aTasks
	d.Meta.EngineBTasks = bTasks
	d.Meta.SchemaVersion = SchemaVersion
	d.Meta.LastUpdated = NowISO()
	d.SchemaVersion = SchemaVersion
}

// DependenciesSatisfied reports whether every dependency of the task is
// far enough along for it to run. Review tasks are ready as soon as each
// dependency is reviewing or completed: reviews run against the
// in-progress output of their parent. Everything else needs completion.
func (d *Document) DependenciesSatisfied(t *Task) bool {
	for _, depID := range t.DependsOn {
		dep := d.FindTask(depID)
		if dep == nil {
			return false
		}
		if t.TaskType == TypeReview {
			if dep.Status != StatusReviewing && dep.Status != StatusCompleted {
				return false
			}
			continue
		}
		if dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}
