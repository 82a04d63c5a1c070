package review

import (
	"fmt"
	"log/slog"

	"github.com/c360studio/agentboard/model"
)

// Blocked-parent reasons recorded when the review flow escalates to a
// human.
const (
	ReasonParseFailed       = "review_parse_failed"
	ReasonMaxRoundsExceeded = "max_review_rounds_exceeded"
)

// Manager applies the review flow to task documents. All methods are
// pure document transforms; the caller runs them inside a store
// transaction and persists the result.
type Manager struct {
	maxRounds int
	logger    *slog.Logger
}

// NewManager creates a review manager.
func NewManager(maxRounds int, logger *slog.Logger) *Manager {
	if maxRounds < 1 {
		maxRounds = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{maxRounds: maxRounds, logger: logger}
}

// MaxRounds returns the configured fix-round cap.
func (m *Manager) MaxRounds() int { return m.maxRounds }

// ReviewableType reports whether completing a task of this type spawns
// an adversarial review.
func ReviewableType(t model.TaskType) bool {
	switch t {
	case model.TypeFeature, model.TypeBugfix, model.TypeRefactor:
		return true
	}
	return false
}

// SpawnReview creates the review task for a finished implementation task
// and moves the parent into the reviewing state. The reviewer runs on
// the opposite engine of whichever engine actually executed the work.
func (m *Manager) SpawnReview(doc *model.Document, parent *model.Task) *model.Task {
	executed := parent.RoutedEngine
	if !executed.Valid() {
		executed = model.EngineA
	}
	reviewer := executed.Opposite()

	child := &model.Task{
		ID:           doc.NextTaskID(),
		ParentTaskID: parent.ID,
		DependsOn:    []string{parent.ID},
		Title:        "Review: " + parent.Title,
		Description: fmt.Sprintf(
			"Adversarial review of the changes produced for task %s (%s).", parent.ID, parent.Title),
		TaskType:  model.TypeReview,
		Priority:  parent.Priority,
		SLATier:   parent.SLATier,
		Engine:    reviewer,
		Status:    model.StatusPending,
		CreatedAt: model.NowISO(),
	}
	child.EnsureShape()
	child.AddTimeline("review_spawned", map[string]any{
		"parent_task_id": parent.ID,
		"review_engine":  string(reviewer),
		"round":          parent.ReviewRound + 1,
	})
	doc.Tasks = append(doc.Tasks, child)

	parent.SubTasks = append(parent.SubTasks, child.ID)
	parent.Status = model.StatusReviewing
	parent.ReviewStatus = model.ReviewPending
	parent.ReviewEngine = reviewer
	parent.AddTimeline("review_requested", map[string]any{"review_task_id": child.ID})

	m.logger.Info("Spawned review task",
		"parent_task_id", parent.ID, "review_task_id", child.ID, "engine", reviewer)
	return child
}

// Outcome describes what ApplyVerdict did to the parent task.
type Outcome struct {
	Approved bool
	// FixRound is set when the parent was bounced back to pending with
	// injected feedback.
	FixRound bool
	// Escalated is set when the parent needs a human (parse failure or
	// round cap); BlockedReason carries which.
	Escalated     bool
	BlockedReason string
}

// ApplyVerdict folds a parsed review verdict (or a parse failure) into
// the parent task. A nil verdict means the reviewer's output could not
// be parsed; that always escalates, never silently approves.
func (m *Manager) ApplyVerdict(parent *model.Task, verdict *Verdict, round int) Outcome {
	if verdict == nil {
		parent.Status = model.StatusPlanReview
		parent.BlockedReason = ReasonParseFailed
		parent.ReviewStatus = model.ReviewCompleted
		parent.AddTimeline("review_unparseable", map[string]any{"round": round})
		return Outcome{Escalated: true, BlockedReason: ReasonParseFailed}
	}

	result := &model.ReviewResult{
		Summary:    verdict.Summary,
		Issues:     toModelIssues(verdict.Issues),
		ReviewedAt: model.NowISO(),
		Round:      round,
	}

	if !verdict.HasBlockingIssues() {
		result.Verdict = "approved"
		parent.ReviewResult = result
		parent.ReviewStatus = model.ReviewApproved
		parent.Status = model.StatusCompleted
		parent.CompletedAt = model.NowISO()
		parent.ReviewFeedback = ""
		parent.AddTimeline("review_approved", map[string]any{
			"round":   round,
			"summary": verdict.Summary,
		})
		return Outcome{Approved: true}
	}

	result.Verdict = "changes_requested"
	parent.ReviewResult = result
	parent.ReviewStatus = model.ReviewChangesRequested

	if parent.ReviewRound+1 > m.maxRounds {
		parent.Status = model.StatusPlanReview
		parent.BlockedReason = ReasonMaxRoundsExceeded
		parent.AddTimeline("review_rounds_exhausted", map[string]any{
			"round":  round,
			"issues": len(verdict.Issues),
		})
		return Outcome{Escalated: true, BlockedReason: ReasonMaxRoundsExceeded}
	}

	parent.ReviewFeedback = verdict.FeedbackBlock()
	parent.ReviewRound++
	parent.Status = model.StatusPending
	parent.AssignedWorker = ""
	parent.AddTimeline("review_changes_requested", map[string]any{
		"round":  round,
		"issues": len(verdict.Issues),
	})
	return Outcome{FixRound: true}
}

func toModelIssues(issues []VerdictIssue) []model.ReviewIssue {
	out := make([]model.ReviewIssue, 0, len(issues))
	for _, i := range issues {
		out = append(out, model.ReviewIssue{
			Severity:    i.Severity,
			File:        i.File,
			Line:        i.Line,
			Description: i.Description,
			Suggestion:  i.Suggestion,
		})
	}
	return out
}
