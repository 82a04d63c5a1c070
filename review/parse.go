// Package review implements the adversarial review flow: a completed
// implementation task spawns a review task on the opposite engine, and
// the reviewer's verdict either approves the work or bounces it back
// with structured feedback.
package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the structured output a review task must produce.
type Verdict struct {
	Summary string         `json:"summary"`
	Issues  []VerdictIssue `json:"issues"`
}

// VerdictIssue is one finding in a review verdict.
type VerdictIssue struct {
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// Blocking reports whether the issue forces a fix round.
func (i VerdictIssue) Blocking() bool {
	switch strings.ToLower(i.Severity) {
	case "critical", "high":
		return true
	}
	return false
}

var (
	// fencedJSONPattern matches fenced JSON blocks. Reviewers often echo
	// earlier drafts, so callers take the LAST match as the verdict.
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseVerdict extracts the review verdict from raw reviewer output.
// The verdict is the last fenced JSON block in the output; anything
// without one is a parse failure, never an implicit approval.
func ParseVerdict(output string) (*Verdict, error) {
	matches := fencedJSONPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no fenced JSON block in review output")
	}
	raw := cleanJSON(matches[len(matches)-1][1])

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse review verdict: %w", err)
	}
	if v.Issues == nil {
		v.Issues = []VerdictIssue{}
	}
	return &v, nil
}

// HasBlockingIssues reports whether any issue demands a fix round.
func (v *Verdict) HasBlockingIssues() bool {
	for _, issue := range v.Issues {
		if issue.Blocking() {
			return true
		}
	}
	return false
}

// FeedbackBlock renders the verdict as the feedback text injected into
// the implementer's next prompt.
func (v *Verdict) FeedbackBlock() string {
	var b strings.Builder
	b.WriteString("A reviewer found issues with the previous attempt. Address every item below.\n")
	if v.Summary != "" {
		b.WriteString("\nReview summary: " + v.Summary + "\n")
	}
	b.WriteString("\nIssues:\n")
	for _, issue := range v.Issues {
		loc := issue.File
		if issue.Line > 0 {
			loc = fmt.Sprintf("%s:%d", issue.File, issue.Line)
		}
		b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", strings.ToLower(issue.Severity), loc, issue.Description))
		if issue.Suggestion != "" {
			b.WriteString("  Suggestion: " + issue.Suggestion + "\n")
		}
	}
	return b.String()
}

// cleanJSON removes JavaScript-style comments and trailing commas,
// artifacts reviewers commonly leave in their JSON.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")
	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting
// string values.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
