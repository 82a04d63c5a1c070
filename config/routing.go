package config

import "github.com/c360studio/agentboard/model"

// RoutingRule maps keyword hits in a task's text to a type and an
// engine preference. Rules are matched first-hit-wins.
type RoutingRule struct {
	TaskType        model.TaskType `yaml:"task_type"`
	Keywords        []string       `yaml:"keywords"`
	PreferredEngine model.Engine   `yaml:"preferred_engine"`
	FallbackEngine  model.Engine   `yaml:"fallback_engine"`
}

// DefaultRoutingRules is the built-in classification table.
func DefaultRoutingRules() []RoutingRule {
	return []RoutingRule{
		{
			TaskType:        model.TypeFeature,
			Keywords:        []string{"implement", "add", "create", "build", "develop"},
			PreferredEngine: model.EngineA,
			FallbackEngine:  model.EngineB,
		},
		{
			TaskType:        model.TypeReview,
			Keywords:        []string{"review", "code review", "pr review", "inspect"},
			PreferredEngine: model.EngineB,
			FallbackEngine:  model.EngineA,
		},
		{
			TaskType:        model.TypeRefactor,
			Keywords:        []string{"refactor", "cleanup", "restructure", "simplify"},
			PreferredEngine: model.EngineB,
			FallbackEngine:  model.EngineA,
		},
		{
			TaskType:        model.TypeBugfix,
			Keywords:        []string{"fix", "bug", "crash", "regression", "broken"},
			PreferredEngine: model.EngineA,
			FallbackEngine:  model.EngineB,
		},
		{
			TaskType:        model.TypeAnalysis,
			Keywords:        []string{"analyze", "audit", "investigate", "profile", "scan"},
			PreferredEngine: model.EngineB,
			FallbackEngine:  model.EngineA,
		},
		{
			TaskType:        model.TypePlan,
			Keywords:        []string{"plan", "design", "architect", "decompose"},
			PreferredEngine: model.EngineA,
			FallbackEngine:  model.EngineB,
		},
	}
}

// EngineForType is the type → preferred engine map used when routing a
// task whose author left the engine on auto.
var EngineForType = map[model.TaskType]model.Engine{
	model.TypeFeature:  model.EngineA,
	model.TypeBugfix:   model.EngineA,
	model.TypePlan:     model.EngineA,
	model.TypeReview:   model.EngineB,
	model.TypeRefactor: model.EngineB,
	model.TypeAnalysis: model.EngineB,
	model.TypeAudit:    model.EngineB,
}

// DefaultWorkerPool mirrors the shipped five-slot pool: three engine-a
// workers for build-type work, two engine-b workers for review-type work.
func DefaultWorkerPool() []model.WorkerSpec {
	return []model.WorkerSpec{
		{ID: "worker-0", Engine: model.EngineA, Port: 5200, Capabilities: []string{"feature", "bugfix", "plan"}},
		{ID: "worker-1", Engine: model.EngineA, Port: 5201, Capabilities: []string{"feature", "bugfix", "plan"}},
		{ID: "worker-2", Engine: model.EngineA, Port: 5202, Capabilities: []string{"feature", "bugfix", "plan"}},
		{ID: "worker-3", Engine: model.EngineB, Port: 5203, Capabilities: []string{"review", "refactor", "analysis", "audit"}},
		{ID: "worker-4", Engine: model.EngineB, Port: 5204, Capabilities: []string{"review", "refactor", "analysis", "audit"}},
	}
}
