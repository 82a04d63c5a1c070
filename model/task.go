// Package model defines the persisted data model for Agentboard:
// tasks, workers, projects, events, and the per-project document that
// the store serializes as JSON.
package model

import (
	"fmt"
	"time"
)

// Engine identifies one of the two CLI coding agent flavors.
type Engine string

const (
	// EngineAuto lets the router pick an engine from the task type.
	EngineAuto Engine = "auto"
	// EngineA is the first engine flavor.
	EngineA Engine = "engine-a"
	// EngineB is the second engine flavor.
	EngineB Engine = "engine-b"
)

// Opposite returns the other concrete engine. Auto has no opposite and
// maps to EngineB (the review counterpart of the default route).
func (e Engine) Opposite() Engine {
	if e == EngineA {
		return EngineB
	}
	return EngineA
}

// Valid reports whether e is a concrete engine (not auto).
func (e Engine) Valid() bool {
	return e == EngineA || e == EngineB
}

// TaskStatus is the task state machine state.
type TaskStatus string

const (
	StatusPending           TaskStatus = "pending"
	StatusPlanReview        TaskStatus = "plan_review"
	StatusBlockedBySubtasks TaskStatus = "blocked_by_subtasks"
	StatusInProgress        TaskStatus = "in_progress"
	StatusReviewing         TaskStatus = "reviewing"
	StatusCompleted         TaskStatus = "completed"
	StatusFailed            TaskStatus = "failed"
	StatusCancelled         TaskStatus = "cancelled"
)

// TaskType classifies the work a task asks for.
type TaskType string

const (
	TypeFeature  TaskType = "feature"
	TypeBugfix   TaskType = "bugfix"
	TypeReview   TaskType = "review"
	TypeRefactor TaskType = "refactor"
	TypeAnalysis TaskType = "analysis"
	TypePlan     TaskType = "plan"
	TypeAudit    TaskType = "audit"
)

// TaskTypes is the closed set of valid task types.
var TaskTypes = map[TaskType]bool{
	TypeFeature:  true,
	TypeBugfix:   true,
	TypeReview:   true,
	TypeRefactor: true,
	TypeAnalysis: true,
	TypePlan:     true,
	TypeAudit:    true,
}

// Priority is the coarse task priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityRank orders priorities for dispatch (lower dispatches first).
func PriorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// SLATier is the deadline class. It dominates priority in dispatch order.
type SLATier string

const (
	SLAUrgent   SLATier = "urgent"
	SLAExpedite SLATier = "expedite"
	SLAStandard SLATier = "standard"
)

// SLARank orders SLA tiers for dispatch (lower dispatches first).
func SLARank(s SLATier) int {
	switch s {
	case SLAUrgent:
		return 0
	case SLAExpedite:
		return 1
	case SLAStandard:
		return 2
	default:
		return 2
	}
}

// ReviewStatus tracks where a task sits in the adversarial review flow.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewCompleted        ReviewStatus = "completed"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
)

// Attempt records one execution try. The attempts list is append-only.
type Attempt struct {
	Number      int      `json:"number"`
	WorkerID    string   `json:"worker_id"`
	Engine      Engine   `json:"engine"`
	LeaseID     string   `json:"lease_id"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
	Status      string   `json:"status"`
	ExitCode    *int     `json:"exit_code,omitempty"`
	ErrorTail   string   `json:"error_tail,omitempty"`
	CommitIDs   []string `json:"commit_ids,omitempty"`
}

// TimelineEntry is an append-only audit record on a task.
type TimelineEntry struct {
	At     string         `json:"at"`
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail,omitempty"`
}

// ReviewIssue is a single finding from an adversarial review.
type ReviewIssue struct {
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ReviewResult is the parsed verdict of one review round.
type ReviewResult struct {
	Verdict    string        `json:"verdict"`
	Summary    string        `json:"summary"`
	Issues     []ReviewIssue `json:"issues"`
	ReviewedAt string        `json:"reviewed_at"`
	Round      int           `json:"round"`
}

// Task is the central entity of the orchestrator.
type Task struct {
	ID           string   `json:"id"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
	SubTasks     []string `json:"sub_tasks"`
	DependsOn    []string `json:"depends_on"`

	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TaskType           TaskType `json:"task_type"`
	Priority           Priority `json:"priority"`
	SLATier            SLATier  `json:"sla_tier"`
	RiskLevel          string   `json:"risk_level,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	RollbackPlan       string   `json:"rollback_plan,omitempty"`

	Engine         Engine `json:"engine"`
	RoutedEngine   Engine `json:"routed_engine,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	Status         TaskStatus `json:"status"`
	AssignedWorker string     `json:"assigned_worker,omitempty"`
	CreatedAt      string     `json:"created_at"`
	StartedAt      string     `json:"started_at,omitempty"`
	CompletedAt    string     `json:"completed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	RetryAfter     string     `json:"retry_after,omitempty"`
	LastExitCode   *int       `json:"last_exit_code,omitempty"`
	CommitIDs      []string   `json:"commit_ids"`
	ErrorLog       string     `json:"error_log,omitempty"`
	BlockedReason  string     `json:"blocked_reason,omitempty"`

	PlanMode      bool          `json:"plan_mode"`
	PlanContent   string        `json:"plan_content,omitempty"`
	PlanQuestions []string      `json:"plan_questions,omitempty"`
	ReviewStatus  ReviewStatus  `json:"review_status,omitempty"`
	ReviewEngine  Engine        `json:"review_engine,omitempty"`
	ReviewResult  *ReviewResult `json:"review_result,omitempty"`
	ReviewRound   int           `json:"review_round"`

	// ReviewFeedback is injected into the next execution prompt after a
	// changes-requested verdict and cleared on successful completion.
	// The leading underscore in the JSON name marks it as private plumbing,
	// matching the on-disk schema.
	ReviewFeedback string `json:"_review_feedback,omitempty"`

	Attempts []Attempt       `json:"attempts"`
	Timeline []TimelineEntry `json:"timeline"`
}

// EnsureShape fills schema-drift holes with defaults so older documents
// read back as valid tasks. Called by the store on every read.
func (t *Task) EnsureShape() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.TaskType == "" || !TaskTypes[t.TaskType] {
		t.TaskType = TypeFeature
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.SLATier == "" {
		t.SLATier = SLAStandard
	}
	if t.Engine == "" {
		t.Engine = EngineAuto
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	if t.SubTasks == nil {
		t.SubTasks = []string{}
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if t.CommitIDs == nil {
		t.CommitIDs = []string{}
	}
	if t.Attempts == nil {
		t.Attempts = []Attempt{}
	}
	if t.Timeline == nil {
		t.Timeline = []TimelineEntry{}
	}
}

// AddTimeline appends an audit entry to the task timeline.
func (t *Task) AddTimeline(event string, detail map[string]any) {
	t.Timeline = append(t.Timeline, TimelineEntry{
		At:     NowISO(),
		Event:  event,
		Detail: detail,
	})
}

// AppendAttempt opens a new attempt record for a dispatch.
func (t *Task) AppendAttempt(workerID string, engine Engine, leaseID string) *Attempt {
	t.Attempts = append(t.Attempts, Attempt{
		Number:    len(t.Attempts) + 1,
		WorkerID:  workerID,
		Engine:    engine,
		LeaseID:   leaseID,
		StartedAt: NowISO(),
		Status:    "running",
	})
	return &t.Attempts[len(t.Attempts)-1]
}

// LatestAttempt returns the most recent attempt, or nil.
func (t *Task) LatestAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// MergeCommitIDs adds ids to the task's commit set, preserving first-seen
// order and dropping duplicates across retries.
func (t *Task) MergeCommitIDs(ids []string) {
	seen := make(map[string]bool, len(t.CommitIDs))
	for _, id := range t.CommitIDs {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		t.CommitIDs = append(t.CommitIDs, id)
	}
}

// Terminal reports whether the task is in a terminal state.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NowISO returns the current UTC time in RFC 3339 with sub-second
// precision, the timestamp format used across all documents.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ParseISO parses a document timestamp, tolerating the empty string.
func ParseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
	}
	return ts, true
}

// FormatTaskID renders a monotonic task id.
func FormatTaskID(n int) string {
	return fmt.Sprintf("task-%03d", n)
}
