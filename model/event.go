package model

// EventLevel grades event severity.
type EventLevel string

const (
	LevelInfo     EventLevel = "info"
	LevelWarning  EventLevel = "warning"
	LevelError    EventLevel = "error"
	LevelCritical EventLevel = "critical"
)

// Event is one structured record in the per-project event ring.
type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Level          EventLevel     `json:"level"`
	TaskID         string         `json:"task_id,omitempty"`
	WorkerID       string         `json:"worker_id,omitempty"`
	Message        string         `json:"message"`
	Meta           map[string]any `json:"meta,omitempty"`
	CreatedAt      string         `json:"created_at"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt string         `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
}

// Well-known event types emitted by the kernel.
const (
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventTaskDeleted     = "task_deleted"
	EventTaskDispatched  = "task_dispatched"
	EventTaskCompleted   = "task_completed"
	EventTaskFailed      = "task_failed"
	EventTaskRetried     = "task_retried"
	EventWorkerClaimed   = "worker_claimed"
	EventWorkerRecovered = "worker_recovered"
	EventWorkerLog       = "worker_log"
	EventEngineFallback  = "engine_fallback"
	EventAlertTriggered  = "alert_triggered"
	EventMergeConflict   = "merge_conflict"
	EventReviewRequested = "review_requested"
	EventReviewVerdict   = "review_verdict"
	EventDocumentChanged = "document_changed"
)
