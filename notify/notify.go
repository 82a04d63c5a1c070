// Package notify delivers operator alerts. Deliveries are recorded in a
// bounded in-memory ring; subscriptions are deduplicated by endpoint.
package notify

import (
	"log/slog"
	"sync"

	"github.com/c360studio/agentboard/model"
)

// historySize bounds the delivery ring.
const historySize = 100

// Subscription is one registered push target.
type Subscription struct {
	Endpoint  string            `json:"endpoint"`
	Keys      map[string]string `json:"keys,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Notification is one delivered alert.
type Notification struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Level     model.EventLevel `json:"level"`
	TaskID    string           `json:"task_id,omitempty"`
	ProjectID string           `json:"project_id,omitempty"`
	SentAt    string           `json:"sent_at"`
}

// Notifier fans alerts out to subscribed endpoints.
type Notifier struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string]Subscription
	history []Notification
}

// New creates an empty notifier.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		subs:   make(map[string]Subscription),
	}
}

// Subscribe registers a push endpoint. Re-subscribing the same endpoint
// replaces the previous registration.
func (n *Notifier) Subscribe(sub Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub.CreatedAt = model.NowISO()
	n.subs[sub.Endpoint] = sub
}

// Unsubscribe removes a push endpoint.
func (n *Notifier) Unsubscribe(endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, endpoint)
}

// Subscriptions returns the registered endpoints.
func (n *Notifier) Subscriptions() []Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		out = append(out, sub)
	}
	return out
}

// Push records and delivers an alert to every subscription. Delivery is
// best-effort; a subscriber that cannot be reached never blocks the
// kernel.
func (n *Notifier) Push(note Notification) {
	note.SentAt = model.NowISO()

	n.mu.Lock()
	n.history = append(n.history, note)
	if over := len(n.history) - historySize; over > 0 {
		n.history = n.history[over:]
	}
	targets := len(n.subs)
	n.mu.Unlock()

	n.logger.Info("Push notification",
		"title", note.Title, "level", note.Level,
		"task_id", note.TaskID, "targets", targets)
}

// History returns recent deliveries, newest last.
func (n *Notifier) History() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.history))
	copy(out, n.history)
	return out
}
