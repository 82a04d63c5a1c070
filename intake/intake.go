// Package intake turns free-form task requests into structured task
// fields. The primary path asks the engine-a CLI to extract the fields
// as JSON; when the CLI is missing or its output does not validate, a
// deterministic keyword pass produces the same shape.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/model"
	"github.com/c360studio/agentboard/router"
)

// extractTimeout bounds the CLI extraction call.
const extractTimeout = 30 * time.Second

// Draft is the structured output of intake, ready to become a task.
type Draft struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	TaskType    model.TaskType  `json:"task_type"`
	Priority    model.Priority  `json:"priority"`
	SLATier     model.SLATier   `json:"sla_tier"`
	PlanMode    bool            `json:"plan_mode"`
	// Source records which path produced the draft: "engine" or "rules".
	Source string `json:"source"`
}

// Extractor derives drafts from free text.
type Extractor struct {
	cfg    *config.Config
	router *router.Router
	logger *slog.Logger
}

// NewExtractor creates an intake extractor.
func NewExtractor(cfg *config.Config, r *router.Router, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, router: r, logger: logger}
}

// Extract produces a draft from free text. The engine path is tried
// first unless running dry; any failure falls through to the rule pass,
// so intake never errors on well-formed input.
func (e *Extractor) Extract(ctx context.Context, text string) (Draft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Draft{}, fmt.Errorf("request text is required")
	}

	if e.cfg.Engines.ExecMode != config.ExecDryRun {
		if draft, err := e.extractViaEngine(ctx, text); err == nil {
			return draft, nil
		} else {
			e.logger.Debug("Engine intake failed, using rule fallback", "error", err)
		}
	}
	return e.extractViaRules(text), nil
}

// extractViaEngine asks the engine-a CLI for the structured fields.
func (e *Extractor) extractViaEngine(ctx context.Context, text string) (Draft, error) {
	if _, err := exec.LookPath(e.cfg.Engines.ACLI); err != nil {
		return Draft{}, fmt.Errorf("engine CLI unavailable: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	prompt := buildExtractionPrompt(text)
	cmd := exec.CommandContext(ctx, e.cfg.Engines.ACLI, "-p", prompt, "--output-format", "json")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return Draft{}, fmt.Errorf("run extraction: %w", err)
	}

	draft, err := parseDraft(stdout.String())
	if err != nil {
		return Draft{}, err
	}
	draft.Source = "engine"
	return draft, nil
}

// extractViaRules is the deterministic fallback: first sentence as
// title, keyword classification, urgency words for priority and SLA.
func (e *Extractor) extractViaRules(text string) Draft {
	draft := Draft{
		Title:       firstSentence(text),
		Description: text,
		TaskType:    e.router.Classify(text, ""),
		Priority:    model.PriorityMedium,
		SLATier:     model.SLAStandard,
		Source:      "rules",
	}
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "urgent", "asap", "immediately", "outage", "production down"):
		draft.Priority = model.PriorityHigh
		draft.SLATier = model.SLAUrgent
	case containsAny(lower, "soon", "this week", "expedite", "blocking"):
		draft.Priority = model.PriorityHigh
		draft.SLATier = model.SLAExpedite
	case containsAny(lower, "whenever", "low priority", "nice to have", "someday"):
		draft.Priority = model.PriorityLow
	}
	if containsAny(lower, "plan first", "needs a plan", "break down", "decompose") {
		draft.PlanMode = true
	}
	return draft
}

func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract task fields from this request and respond with only a JSON
object of the shape {"title": "...", "description": "...", "task_type":
"feature|bugfix|review|refactor|analysis|plan|audit", "priority":
"high|medium|low", "sla_tier": "urgent|expedite|standard", "plan_mode":
false}.

Request:
%s`, text)
}

// parseDraft validates engine output against the closed field sets.
// Anything outside them is a hard failure that triggers the rule pass.
func parseDraft(output string) (Draft, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return Draft{}, fmt.Errorf("no JSON object in extraction output")
	}
	var draft Draft
	if err := json.Unmarshal([]byte(output[start:end+1]), &draft); err != nil {
		return Draft{}, fmt.Errorf("parse extraction output: %w", err)
	}
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return Draft{}, fmt.Errorf("extraction produced no title")
	}
	if !model.TaskTypes[draft.TaskType] {
		return Draft{}, fmt.Errorf("extraction produced unknown task type %q", draft.TaskType)
	}
	switch draft.Priority {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
	default:
		return Draft{}, fmt.Errorf("extraction produced unknown priority %q", draft.Priority)
	}
	switch draft.SLATier {
	case model.SLAUrgent, model.SLAExpedite, model.SLAStandard:
	default:
		return Draft{}, fmt.Errorf("extraction produced unknown sla tier %q", draft.SLATier)
	}
	return draft, nil
}

func firstSentence(text string) string {
	for _, sep := range []string{". ", "\n", "! ", "? "} {
		if idx := strings.Index(text, sep); idx > 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)
	const maxTitle = 120
	if len(text) > maxTitle {
		text = strings.TrimSpace(text[:maxTitle])
	}
	return text
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
