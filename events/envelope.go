// Package events carries kernel change notifications to in-process
// subscribers and, when configured, mirrors them onto a NATS subject.
package events

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/agentboard/model"
)

// Envelope kinds published on the change stream.
const (
	KindTaskChanged    = "task_changed"
	KindTaskDeleted    = "task_deleted"
	KindEventEmitted   = "event_emitted"
	KindWorkerChanged  = "worker_changed"
	KindProjectChanged = "project_changed"
	KindDocumentReload = "document_reload"
)

// Envelope is one change-stream message. Exactly one payload field is
// set, matching Kind.
type Envelope struct {
	Kind      string        `json:"type"`
	ProjectID string        `json:"project_id,omitempty"`
	Task      *model.Task   `json:"task,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
	Event     *model.Event  `json:"event,omitempty"`
	Worker    *model.Worker `json:"worker,omitempty"`
	At        string        `json:"at"`
}

// NewEvent builds a structured event record with a fresh id.
func NewEvent(eventType string, level model.EventLevel, message string) *model.Event {
	return &model.Event{
		ID:        "evt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Type:      eventType,
		Level:     level,
		Message:   message,
		CreatedAt: model.NowISO(),
	}
}

// NewReloadEnvelope wraps an out-of-band document rewrite for the
// stream: consumers refetch, and the embedded event names the file.
func NewReloadEnvelope(projectID, path string) Envelope {
	ev := NewEvent(model.EventDocumentChanged, model.LevelInfo,
		fmt.Sprintf("document %s rewritten outside the kernel", path))
	return Envelope{
		Kind:      KindDocumentReload,
		ProjectID: projectID,
		Event:     ev,
		At:        model.NowISO(),
	}
}

// NewLeaseID mints a dispatch lease token.
func NewLeaseID() string {
	return "lease-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
