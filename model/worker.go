package model

// WorkerStatus is the in-memory worker pool state.
type WorkerStatus string

const (
	WorkerIdle  WorkerStatus = "idle"
	WorkerBusy  WorkerStatus = "busy"
	WorkerError WorkerStatus = "error"
)

// WorkerHealth carries the probe-facing health counters of a worker.
type WorkerHealth struct {
	LastHeartbeat      string `json:"last_heartbeat,omitempty"`
	ConsecutiveFailures int   `json:"consecutive_failures"`
	AvgTaskDurationMS  int64  `json:"avg_task_duration_ms"`
}

// Worker is one slot of the fixed execution pool. Workers live in process
// memory; durable consequences of their work are reflected into the task
// documents under the store lock.
type Worker struct {
	ID               string       `json:"id"`
	Engine           Engine       `json:"engine"`
	Port             int          `json:"port"`
	Capabilities     []string     `json:"capabilities"`
	WorktreePath     string       `json:"worktree_path"`
	Status           WorkerStatus `json:"status"`
	CurrentTaskID    string       `json:"current_task_id,omitempty"`
	CurrentProjectID string       `json:"current_project_id,omitempty"`
	LeaseID          string       `json:"lease_id,omitempty"`
	PID              int          `json:"pid,omitempty"`
	StartedAt        string       `json:"started_at,omitempty"`
	LastSeenAt       string       `json:"last_seen_at,omitempty"`
	TotalCompleted   int          `json:"total_tasks_completed"`
	CLIAvailable     bool         `json:"cli_available"`
	Health           WorkerHealth `json:"health"`

	// ErrorAt stamps when the health probe moved the worker to error,
	// gating cooldown recovery.
	ErrorAt string `json:"_error_at,omitempty"`
}

// WorkerSpec is the configuration template one pool slot is built from.
type WorkerSpec struct {
	ID           string   `yaml:"id" json:"id"`
	Engine       Engine   `yaml:"engine" json:"engine"`
	Port         int      `yaml:"port" json:"port"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// BuildWorkers expands pool specs into full idle worker state.
func BuildWorkers(specs []WorkerSpec, worktreeRoot string) []*Worker {
	workers := make([]*Worker, 0, len(specs))
	for _, spec := range specs {
		workers = append(workers, &Worker{
			ID:           spec.ID,
			Engine:       spec.Engine,
			Port:         spec.Port,
			Capabilities: append([]string(nil), spec.Capabilities...),
			WorktreePath: worktreeRoot + "/" + spec.ID,
			Status:       WorkerIdle,
			Health:       WorkerHealth{},
		})
	}
	return workers
}

// Release returns the worker to idle and updates its health accounting.
// Success resets the consecutive-failure counter and bumps the completed
// total; failure increments the counter.
func (w *Worker) Release(success bool) {
	if success {
		w.TotalCompleted++
		w.Health.ConsecutiveFailures = 0
	} else {
		w.Health.ConsecutiveFailures++
	}
	w.clearAssignment()
}

// ReleaseNeutral returns the worker to idle without touching the success
// accounting, for tasks cancelled or deleted out from under it.
func (w *Worker) ReleaseNeutral() {
	w.clearAssignment()
}

func (w *Worker) clearAssignment() {
	w.Status = WorkerIdle
	w.CurrentTaskID = ""
	w.CurrentProjectID = ""
	w.LeaseID = ""
	w.PID = 0
	w.StartedAt = ""
	w.Health.LastHeartbeat = NowISO()
	w.LastSeenAt = NowISO()
}

// ObserveDuration folds one task duration into the rolling average
// (exponentially weighted, 0.8 old / 0.2 new).
func (w *Worker) ObserveDuration(ms int64) {
	if w.Health.AvgTaskDurationMS <= 0 {
		w.Health.AvgTaskDurationMS = ms
		return
	}
	w.Health.AvgTaskDurationMS = (w.Health.AvgTaskDurationMS*8 + ms*2) / 10
}
