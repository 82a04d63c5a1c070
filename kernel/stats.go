package kernel

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/agentboard/model"
)

// EngineStats aggregates routed work per engine across a document.
type EngineStats struct {
	Engine         model.Engine `json:"engine"`
	Healthy        bool         `json:"healthy"`
	TasksRouted    int          `json:"tasks_routed"`
	Completed      int          `json:"completed"`
	Failed         int          `json:"failed"`
	WorkersTotal   int          `json:"workers_total"`
	WorkersIdle    int          `json:"workers_idle"`
	WorkersBusy    int          `json:"workers_busy"`
	WorkersError   int          `json:"workers_error"`
	TotalCompleted int          `json:"total_completed"`
	AvgDurationMS  int64        `json:"avg_task_duration_ms"`
}

// EngineStatsFor computes per-engine aggregates for one project.
func (k *Kernel) EngineStatsFor(projectID string) ([]EngineStats, error) {
	doc, err := k.store.ReadTasks(projectID)
	if err != nil {
		return nil, err
	}

	stats := map[model.Engine]*EngineStats{
		model.EngineA: {Engine: model.EngineA},
		model.EngineB: {Engine: model.EngineB},
	}
	for _, t := range doc.Tasks {
		s, ok := stats[t.RoutedEngine]
		if !ok {
			continue
		}
		s.TasksRouted++
		switch t.Status {
		case model.StatusCompleted:
			s.Completed++
		case model.StatusFailed:
			s.Failed++
		}
	}

	k.mu.Lock()
	for _, w := range k.workers {
		s := stats[w.Engine]
		if s == nil {
			continue
		}
		s.WorkersTotal++
		s.TotalCompleted += w.TotalCompleted
		switch w.Status {
		case model.WorkerIdle:
			s.WorkersIdle++
		case model.WorkerBusy:
			s.WorkersBusy++
		case model.WorkerError:
			s.WorkersError++
		}
		if w.CLIAvailable && w.Health.ConsecutiveFailures < k.cfg.Workers.MaxConsecutiveFailures {
			s.Healthy = true
		}
		if w.Health.AvgTaskDurationMS > 0 {
			if s.AvgDurationMS == 0 {
				s.AvgDurationMS = w.Health.AvgTaskDurationMS
			} else {
				s.AvgDurationMS = (s.AvgDurationMS + w.Health.AvgTaskDurationMS) / 2
			}
		}
	}
	k.mu.Unlock()

	return []EngineStats{*stats[model.EngineA], *stats[model.EngineB]}, nil
}

// ReviewSummary is the per-task review digest.
type ReviewSummary struct {
	Verdict     string `json:"verdict"`
	Summary     string `json:"summary"`
	TotalIssues int    `json:"total_issues"`
	Critical    int    `json:"critical"`
	High        int    `json:"high"`
	Medium      int    `json:"medium"`
	Low         int    `json:"low"`
	Round       int    `json:"round"`
}

// ReviewSummaryFor digests the latest review result of one task.
func (k *Kernel) ReviewSummaryFor(projectID, taskID string) (ReviewSummary, error) {
	t, err := k.loadTask(projectID, taskID)
	if err != nil {
		return ReviewSummary{}, err
	}
	if t.ReviewResult == nil {
		return ReviewSummary{}, fmt.Errorf("task %s has no review result", taskID)
	}
	sum := ReviewSummary{
		Verdict:     t.ReviewResult.Verdict,
		Summary:     t.ReviewResult.Summary,
		TotalIssues: len(t.ReviewResult.Issues),
		Round:       t.ReviewResult.Round,
	}
	for _, issue := range t.ReviewResult.Issues {
		switch strings.ToLower(issue.Severity) {
		case "critical":
			sum.Critical++
		case "high":
			sum.High++
		case "medium":
			sum.Medium++
		case "low":
			sum.Low++
		}
	}
	return sum, nil
}

// DispatchStats reports the dispatch loop's runtime counters.
type DispatchStats struct {
	Enabled     bool      `json:"enabled"`
	Cycles      int64     `json:"cycles"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	Interval    string    `json:"interval"`
}

// DispatchStatsNow snapshots the dispatch loop state.
func (k *Kernel) DispatchStatsNow() DispatchStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return DispatchStats{
		Enabled:     k.dispatchEnabled,
		Cycles:      k.cycles,
		LastCycleAt: k.lastCycleAt,
		Interval:    k.cfg.Dispatch.Interval.String(),
	}
}
