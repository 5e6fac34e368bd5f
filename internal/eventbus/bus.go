package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scanner.
const (
	TypePass         = "scan.pass"          // overseer enqueued a new scheduling pass
	TypePaused       = "scan.paused"        // overseer drained the queue because of a pause
	TypeRelocated    = "scan.relocated"     // overseer adopted a new center
	TypeScheduleFail = "scan.schedule_fail" // generation failed (no spawn data)
	TypeTaskDone     = "worker.task"        // a worker finished one task (any outcome)
	TypeCooldown     = "worker.cooldown"    // a worker entered cooldown
	TypeReconnect    = "worker.reconnect"   // a worker opened a fresh session
)

// Event is a small in-memory signal. Data should be JSON-serializable since
// the control server streams events to websocket clients.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks; a slow
// subscriber loses events instead of stalling the scan loop.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
