package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// Bus fans change-stream envelopes out to in-process subscribers. A slow
// subscriber never blocks publishers; envelopes it cannot absorb are
// dropped and counted.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int64]chan Envelope
	nextID int64

	dropped atomic.Int64

	mirror *Mirror
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[int64]chan Envelope),
	}
}

// AttachMirror sets the optional NATS mirror. Pass nil to detach.
func (b *Bus) AttachMirror(m *Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = m
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer < 1 {
		buffer = 32
	}
	ch := make(chan Envelope, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an envelope to every subscriber and the mirror.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	mirror := b.mirror
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()

	if mirror != nil {
		mirror.Publish(env)
	}
}

// Dropped returns the count of envelopes dropped on full subscriber
// channels since startup.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Mirror republishes envelopes onto a NATS subject so external consumers
// can follow the change stream without polling the documents.
type Mirror struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewMirror connects to NATS and returns a mirror publisher.
func NewMirror(url, subject string, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("agentboard-change-stream"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Mirror{conn: conn, subject: subject, logger: logger}, nil
}

// Publish serializes and publishes one envelope. Failures are logged,
// never surfaced; the mirror is best-effort by contract.
func (m *Mirror) Publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Warn("Failed to marshal change envelope", "error", err)
		return
	}
	if err := m.conn.Publish(m.subject, data); err != nil {
		m.logger.Warn("Failed to mirror change envelope", "subject", m.subject, "error", err)
	}
}

// Close drains and closes the NATS connection.
func (m *Mirror) Close() {
	if m.conn != nil {
		_ = m.conn.Drain()
	}
}
