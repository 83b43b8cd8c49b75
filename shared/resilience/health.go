package resilience

import (
	"sync"
	"time"
)

// State is the connectivity state of a broker connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRetrying     State = "retrying"
)

// Snapshot is a point-in-time copy of a connection's health
type Snapshot struct {
	State   State         `json:"state"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"-"`
	Since   time.Time     `json:"since"`
}

// DelayMillis returns the pending retry delay in milliseconds
func (s Snapshot) DelayMillis() int64 {
	return s.Delay.Milliseconds()
}

// Health tracks the connection state of one transport client.
// It is safe for concurrent use.
type Health struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewHealth creates a tracker in the disconnected state
func NewHealth() *Health {
	return &Health{snap: Snapshot{State: StateDisconnected, Since: time.Now()}}
}

// Snapshot returns the current state
func (h *Health) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Connecting marks the start of a connection attempt
func (h *Health) Connecting() {
	h.set(Snapshot{State: StateConnecting})
}

// Connected marks a successful connection and resets the attempt counter
func (h *Health) Connected() {
	h.set(Snapshot{State: StateConnected})
}

// Disconnected marks the connection as gone with no retry scheduled
func (h *Health) Disconnected() {
	h.set(Snapshot{State: StateDisconnected})
}

// Retrying records a scheduled reconnect attempt
func (h *Health) Retrying(attempt int, delay time.Duration) {
	h.set(Snapshot{State: StateRetrying, Attempt: attempt, Delay: delay})
}

// IsConnected reports whether the last known state is connected
func (h *Health) IsConnected() bool {
	return h.Snapshot().State == StateConnected
}

func (h *Health) set(s Snapshot) {
	s.Since = time.Now()
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}
