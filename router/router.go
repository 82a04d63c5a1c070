// Package router classifies tasks from their text and decides which
// engine flavor runs them, falling back across engines when the
// preferred side of the pool has no healthy capacity.
package router

import (
	"strings"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/model"
)

// Router holds the classification rule table.
type Router struct {
	rules []config.RoutingRule
}

// New builds a router. Nil rules fall back to the built-in table.
func New(rules []config.RoutingRule) *Router {
	if len(rules) == 0 {
		rules = config.DefaultRoutingRules()
	}
	return &Router{rules: rules}
}

// Classify derives a task type from title and description. Matching is
// case-insensitive, first rule with a keyword hit wins, and the default
// when nothing matches is feature.
func (r *Router) Classify(title, description string) model.TaskType {
	text := strings.ToLower(title + " " + description)
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.TaskType
			}
		}
	}
	return model.TypeFeature
}

// ruleFor returns the rule governing a task type, or nil.
func (r *Router) ruleFor(tt model.TaskType) *config.RoutingRule {
	for i := range r.rules {
		if r.rules[i].TaskType == tt {
			return &r.rules[i]
		}
	}
	return nil
}

// PreferredEngine resolves the engine a task wants before pool health is
// considered: the author's explicit choice when not auto, then the rule
// table's preference, then the type's home engine.
func (r *Router) PreferredEngine(t *model.Task) model.Engine {
	if t.Engine.Valid() {
		return t.Engine
	}
	if rule := r.ruleFor(t.TaskType); rule != nil && rule.PreferredEngine.Valid() {
		return rule.PreferredEngine
	}
	if e, ok := config.EngineForType[t.TaskType]; ok {
		return e
	}
	return model.EngineA
}

// Decision is the outcome of routing one task against pool capacity.
type Decision struct {
	Engine model.Engine
	// Fallback is set when the preferred engine had no idle worker and
	// the task was rerouted to the opposite engine.
	Fallback bool
	// FallbackReason is recorded on the task when Fallback is true.
	FallbackReason string
	// Skip means the task cannot run this cycle: neither the preferred
	// engine nor an allowed fallback has an idle worker.
	Skip bool
}

// Route picks the engine for a task given which engines currently have
// idle capacity. Review tasks never cross to the opposite engine: the
// adversarial reviewer must stay the counterpart of the implementer, so
// a starved review waits for its own engine.
func (r *Router) Route(t *model.Task, idle map[model.Engine]bool) Decision {
	preferred := r.PreferredEngine(t)
	if idle[preferred] {
		return Decision{Engine: preferred}
	}
	if t.TaskType == model.TypeReview {
		return Decision{Skip: true}
	}
	fallback := preferred.Opposite()
	if rule := r.ruleFor(t.TaskType); rule != nil && rule.FallbackEngine.Valid() && rule.FallbackEngine != preferred {
		fallback = rule.FallbackEngine
	}
	if idle[fallback] {
		return Decision{
			Engine:         fallback,
			Fallback:       true,
			FallbackReason: "no_idle_" + string(preferred),
		}
	}
	return Decision{Skip: true}
}
