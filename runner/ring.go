package runner

import "sync"

// logRingSize bounds the per-worker transcript kept in memory.
const logRingSize = 200

// LogRing keeps the most recent output lines for one worker.
type LogRing struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

// NewLogRing creates an empty ring.
func NewLogRing() *LogRing {
	return &LogRing{lines: make([]string, logRingSize)}
}

// Append adds a line, evicting the oldest when full.
func (r *LogRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < logRingSize {
		r.lines[(r.start+r.count)%logRingSize] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % logRingSize
}

// Snapshot returns the buffered lines oldest-first.
func (r *LogRing) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%logRingSize]
	}
	return out
}

// Reset clears the ring for a new task.
func (r *LogRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}
