package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pogoscan/internal/geo"
)

// Task is one location to scan. Zero NotBefore/NotAfter mean unconstrained.
type Task struct {
	Seq       int          `json:"seq"`
	Pass      string       `json:"pass"` // id of the scheduling pass that produced the task
	Location  geo.Location `json:"location"`
	NotBefore time.Time    `json:"not_before,omitempty"`
	NotAfter  time.Time    `json:"not_after,omitempty"`
}

// Queue is an unbounded blocking FIFO shared by the overseer and all workers.
// Each task is handed to exactly one Dequeue caller.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	tasks    []Task

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	drained  atomic.Uint64
}

func NewQueue() *Queue {
	q := &Queue{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.enqueued.Add(1)
	q.notEmpty.Signal()
}

// Dequeue blocks until a task is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		q.notEmpty.Wait()
	}
	return q.popLocked(), nil
}

// TryDequeue returns the head task without blocking.
func (q *Queue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() Task {
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	if len(q.tasks) == 0 {
		q.tasks = nil
	}
	q.dequeued.Add(1)
	return t
}

// Drain discards every queued task and returns how many were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	n := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()
	q.drained.Add(uint64(n))
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) Empty() bool { return q.Len() == 0 }

type QueueStats struct {
	Len      int    `json:"len"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Drained  uint64 `json:"drained"`
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Len:      q.Len(),
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Drained:  q.drained.Load(),
	}
}
