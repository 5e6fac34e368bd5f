package scan

import (
	"sync"
	"time"

	"pogoscan/internal/geo"
)

// WorkerSnapshot is a point-in-time copy of one worker's status.
type WorkerSnapshot struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Message       string    `json:"message"`
	Success       uint64    `json:"success"`
	Fail          int       `json:"fail"` // consecutive, reset on reconnect
	NoItems       uint64    `json:"no_items"`
	Skipped       uint64    `json:"skipped"`
	Discarded     uint64    `json:"discarded"` // stale after a pause or relocation
	FailedTotal   uint64    `json:"failed_total"`
	Reconnects    uint64    `json:"reconnects"`
	LastSeq       int       `json:"last_seq,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// workerStatus is written only by its worker; readers go through snapshot.
type workerStatus struct {
	mu sync.Mutex
	s  WorkerSnapshot
}

func (w *workerStatus) update(fn func(s *WorkerSnapshot)) {
	w.mu.Lock()
	fn(&w.s)
	w.s.UpdatedAt = time.Now()
	w.mu.Unlock()
}

func (w *workerStatus) message(msg string) {
	w.update(func(s *WorkerSnapshot) { s.Message = msg })
}

func (w *workerStatus) fail(msg string) {
	w.update(func(s *WorkerSnapshot) {
		s.Fail++
		s.FailedTotal++
		s.Message = msg
	})
}

func (w *workerStatus) failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Fail
}

func (w *workerStatus) snapshot() WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s
}

// OverseerState is the overseer's coarse state.
type OverseerState string

const (
	StateInitializing OverseerState = "initializing"
	StatePaused       OverseerState = "paused"
	StateWaiting      OverseerState = "waiting_for_location"
	StateFilling      OverseerState = "filling"
	StateProcessing   OverseerState = "processing"
	StateBackoff      OverseerState = "schedule_backoff"
)

type OverseerSnapshot struct {
	Method       string        `json:"method"`
	State        OverseerState `json:"state"`
	Message      string        `json:"message"`
	Center       *geo.Location `json:"center,omitempty"`
	Passes       uint64        `json:"passes"`
	LastPass     string        `json:"last_pass,omitempty"`
	LastPassSize int           `json:"last_pass_size"`
	LastPassAt   time.Time     `json:"last_pass_at,omitempty"`
	RetryAt      time.Time     `json:"retry_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
