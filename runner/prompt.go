// Package runner executes tasks against the engine CLIs inside a
// worker's worktree, streaming output into per-worker log rings and
// extracting commit ids from the transcript.
package runner

import (
	"fmt"
	"strings"

	"github.com/c360studio/agentboard/model"
)

// BuildPrompt renders the execution prompt for a task. Review feedback
// from a previous bounced round is injected ahead of the task body so
// the engine addresses it first.
func BuildPrompt(t *model.Task) string {
	if t.TaskType == model.TypeReview {
		return buildReviewPrompt(t)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Title)
	fmt.Fprintf(&b, "Type: %s, priority: %s\n\n", t.TaskType, t.Priority)
	if t.ReviewFeedback != "" {
		b.WriteString(t.ReviewFeedback)
		b.WriteString("\n")
	}
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	if t.AcceptanceCriteria != "" {
		b.WriteString("\nAcceptance criteria:\n")
		b.WriteString(t.AcceptanceCriteria)
		b.WriteString("\n")
	}
	if t.PlanContent != "" && !t.PlanMode {
		b.WriteString("\nApproved plan:\n")
		b.WriteString(t.PlanContent)
		b.WriteString("\n")
	}
	b.WriteString("\nWork on the current branch only. Commit your changes with clear messages.\n")
	return b.String()
}

// buildReviewPrompt demands the machine-readable verdict shape. A review
// that produces no fenced JSON block is treated as unparseable, so the
// shape requirement is stated twice.
func buildReviewPrompt(t *model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	b.WriteString(`
Review the changes on this branch adversarially. Look for correctness
bugs, security problems, missing error handling, and broken edge cases.

You MUST end your response with exactly one fenced JSON block of this
shape:

` + "```json" + `
{
  "summary": "<one-paragraph assessment>",
  "issues": [
    {
      "severity": "critical|high|medium|low",
      "file": "<path>",
      "line": 0,
      "description": "<what is wrong>",
      "suggestion": "<how to fix it>"
    }
  ]
}
` + "```" + `

An empty issues list means the changes are acceptable. The fenced JSON
block is mandatory even when there are no issues.
`)
	return b.String()
}

// BuildPlanPrompt renders the planning prompt: a read-only pass that
// produces a numbered step list suitable for decomposition.
func BuildPlanPrompt(t *model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	b.WriteString(`
Do not modify any files. Explore the repository and produce an
implementation plan as a numbered list of at most 8 concrete steps, one
step per line. Each step should be independently executable by a coding
agent. If anything is unclear, list open questions after the steps, each
on a line starting with "Q:".
`)
	return b.String()
}
