package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/model"
)

// Plan is the outcome of a read-only planning pass.
type Plan struct {
	Content   string
	Questions []string
}

// GeneratePlan runs the engine in read-only mode to produce a step plan
// for the task. The invocation is bounded by the configured plan
// timeout; a timed-out or failed pass returns an error and the task
// stays where it was.
func (r *Runner) GeneratePlan(ctx context.Context, engine model.Engine, task *model.Task, dir string) (Plan, error) {
	if r.cfg.Engines.ExecMode == config.ExecDryRun {
		return dryRunPlan(task), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Engines.PlanTimeout)
	defer cancel()

	if !engine.Valid() {
		engine = model.EngineA
	}
	name, args := planCommandFor(r.cfg, engine, BuildPlanPrompt(task))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = cleanEnv(os.Environ(), "planner", task.ID)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Plan{}, fmt.Errorf("plan generation timed out after %s", r.cfg.Engines.PlanTimeout)
		}
		return Plan{}, fmt.Errorf("plan generation failed: %w: %s",
			err, tailString(stderr.String(), stderrTailBytes))
	}
	return parsePlanOutput(stdout.String()), nil
}

// parsePlanOutput splits the engine's plan into content and trailing
// open questions ("Q:" lines).
func parsePlanOutput(output string) Plan {
	var plan Plan
	var content []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Q:") {
			q := strings.TrimSpace(strings.TrimPrefix(trimmed, "Q:"))
			if q != "" {
				plan.Questions = append(plan.Questions, q)
			}
			continue
		}
		content = append(content, line)
	}
	plan.Content = strings.TrimSpace(strings.Join(content, "\n"))
	return plan
}

func dryRunPlan(task *model.Task) Plan {
	return Plan{
		Content: strings.Join([]string{
			"1. Inspect the code paths relevant to: " + task.Title,
			"2. Implement the change",
			"3. Add tests covering the new behavior",
		}, "\n"),
	}
}
