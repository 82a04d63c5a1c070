package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/agentboard/config"
	"github.com/c360studio/agentboard/model"
)

const (
	// stdoutTailBytes and stderrTailBytes bound what is persisted onto
	// the task from a transcript.
	stdoutTailBytes = 1000
	stderrTailBytes = 4000

	// maxCommitIDs bounds commit extraction per run.
	maxCommitIDs = 20

	// nestedEnvMarker flags a process tree already running under a
	// worker, so an engine spawned by an engine does not recurse.
	nestedEnvMarker = "AGENTBOARD_NESTED"
)

// commitIDPattern matches git commit hashes in engine output.
var commitIDPattern = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)

// Result is the outcome of one task execution.
type Result struct {
	ExitCode   int
	Success    bool
	CommitIDs  []string
	StdoutTail string
	StderrTail string
	DurationMS int64
	TimedOut   bool
}

// LineFunc receives each streamed output line during execution.
type LineFunc func(workerID, taskID, line string)

// StartFunc receives the process id of a spawned engine CLI.
type StartFunc func(workerID string, pid int)

// Runner spawns engine CLIs for tasks. One Runner serves the whole pool;
// log rings are per worker.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	onLine  LineFunc
	onStart StartFunc

	ringsMu sync.Mutex
	rings   map[string]*LogRing
}

// New creates a runner. onLine may be nil.
func New(cfg *config.Config, onLine LineFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		onLine: onLine,
		rings:  make(map[string]*LogRing),
	}
}

// OnStart registers a hook called with the CLI's pid once it spawns.
// The worker passed to Run is a snapshot; the hook lets the pool owner
// record the live pid on its own copy.
func (r *Runner) OnStart(fn StartFunc) {
	r.onStart = fn
}

// Ring returns the log ring for a worker, creating it on first use.
func (r *Runner) Ring(workerID string) *LogRing {
	r.ringsMu.Lock()
	defer r.ringsMu.Unlock()
	ring, ok := r.rings[workerID]
	if !ok {
		ring = NewLogRing()
		r.rings[workerID] = ring
	}
	return ring
}

// Run executes a task in the worker's worktree and waits for the CLI to
// exit. The context carries any execution deadline; cancellation kills
// the process group.
func (r *Runner) Run(ctx context.Context, worker *model.Worker, task *model.Task, dir string) (Result, error) {
	start := time.Now()
	ring := r.Ring(worker.ID)
	ring.Reset()

	if r.cfg.Engines.ExecMode == config.ExecDryRun {
		return r.dryRun(worker, task, ring, start), nil
	}

	engine := task.RoutedEngine
	if !engine.Valid() {
		engine = worker.Engine
	}
	name, args := commandFor(r.cfg, engine, BuildPrompt(task))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = cleanEnv(os.Environ(), worker.ID, task.ID)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("open stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", name, err)
	}
	worker.PID = cmd.Process.Pid
	if r.onStart != nil {
		r.onStart(worker.ID, cmd.Process.Pid)
	}

	var (
		stdoutTail tailBuffer
		commits    []string
		seen       = map[string]bool{}
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		ring.Append(line)
		stdoutTail.Write(line, stdoutTailBytes)
		for _, id := range commitIDPattern.FindAllString(line, -1) {
			if len(commits) >= maxCommitIDs {
				break
			}
			if !seen[id] {
				seen[id] = true
				commits = append(commits, id)
			}
		}
		if r.onLine != nil {
			r.onLine(worker.ID, task.ID, line)
		}
	}

	// A scan error (typically a line past the buffer cap) leaves the
	// pipe unread; kill the process so Wait cannot block on its writes.
	streamErr := scanner.Err()
	if streamErr != nil {
		r.logger.Warn("Output stream aborted",
			"worker_id", worker.ID, "task_id", task.ID, "error", streamErr)
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	res := Result{
		CommitIDs:  commits,
		StdoutTail: stdoutTail.String(),
		StderrTail: tailString(stderr.String(), stderrTailBytes),
		DurationMS: time.Since(start).Milliseconds(),
	}
	switch {
	case streamErr != nil:
		res.ExitCode = -1
		res.StderrTail = tailString("output stream aborted: "+streamErr.Error(), stderrTailBytes)
	case waitErr == nil:
		res.Success = true
	case ctx.Err() != nil:
		res.TimedOut = ctx.Err() == context.DeadlineExceeded
		res.ExitCode = -1
	default:
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	return res, nil
}

// dryRun short-circuits execution for tests and demos: no subprocess,
// deterministic transcript, synthetic success.
func (r *Runner) dryRun(worker *model.Worker, task *model.Task, ring *LogRing, start time.Time) Result {
	lines := []string{
		fmt.Sprintf("[dry-run] worker=%s task=%s type=%s", worker.ID, task.ID, task.TaskType),
		"[dry-run] no engine CLI invoked",
	}
	if task.TaskType == model.TypeReview {
		lines = append(lines,
			"```json",
			`{"summary": "dry-run review, no changes inspected", "issues": []}`,
			"```",
		)
	}
	for _, line := range lines {
		ring.Append(line)
		if r.onLine != nil {
			r.onLine(worker.ID, task.ID, line)
		}
	}
	return Result{
		Success:    true,
		StdoutTail: tailString(strings.Join(lines, "\n"), stdoutTailBytes),
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// commandFor maps an engine flavor to its CLI invocation. The two
// flavors speak different dialects: A takes a prompt flag with streamed
// JSON output, B takes an exec subcommand.
func commandFor(cfg *config.Config, engine model.Engine, prompt string) (string, []string) {
	if engine == model.EngineB {
		return cfg.Engines.BCLI, []string{"exec", "--json", prompt}
	}
	return cfg.Engines.ACLI, []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
}

// planCommandFor builds the read-only planning invocation.
func planCommandFor(cfg *config.Config, engine model.Engine, prompt string) (string, []string) {
	if engine == model.EngineB {
		return cfg.Engines.BCLI, []string{"exec", "--sandbox", "read-only", prompt}
	}
	return cfg.Engines.ACLI, []string{"-p", prompt, "--allowed-tools", "Read,Glob,Grep"}
}

// cleanEnv strips the nested-invocation marker from the inherited
// environment and stamps the worker identity. An engine that shells out
// to another engine inherits the marker and refuses to recurse.
func cleanEnv(env []string, workerID, taskID string) []string {
	out := make([]string, 0, len(env)+3)
	for _, kv := range env {
		if strings.HasPrefix(kv, nestedEnvMarker+"=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		nestedEnvMarker+"=1",
		"AGENTBOARD_WORKER="+workerID,
		"AGENTBOARD_TASK="+taskID,
	)
	return out
}

// tailBuffer accumulates streamed lines keeping only a byte-bounded tail.
type tailBuffer struct {
	buf strings.Builder
}

func (t *tailBuffer) Write(line string, limit int) {
	t.buf.WriteString(line)
	t.buf.WriteByte('\n')
	if t.buf.Len() > limit*2 {
		s := tailString(t.buf.String(), limit)
		t.buf.Reset()
		t.buf.WriteString(s)
	}
}

func (t *tailBuffer) String() string {
	return tailString(t.buf.String(), stdoutTailBytes)
}

// tailString returns the last limit bytes of s, aligned to a line start
// when possible.
func tailString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[len(s)-limit:]
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < len(s)-1 {
		s = s[idx+1:]
	}
	return s
}
