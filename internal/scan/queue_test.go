package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pogoscan/internal/geo"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := 1; i <= 3; i++ {
		q.Enqueue(Task{Seq: i})
	}
	if q.Len() != 3 || q.Empty() {
		t.Fatalf("len = %d", q.Len())
	}
	for want := 1; want <= 3; want++ {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got.Seq != want {
			t.Fatalf("seq = %d, want %d", got.Seq, want)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue on empty queue returned a task")
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(Task{Seq: i, Location: geo.Location{Lat: float64(i)}})
	}
	if n := q.Drain(); n != 5 {
		t.Fatalf("drained %d, want 5", n)
	}
	if n := q.Drain(); n != 0 {
		t.Fatalf("second drain %d, want 0", n)
	}
	st := q.Stats()
	if st.Len != 0 || st.Enqueued != 5 || st.Drained != 5 || st.Dequeued != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestQueueDequeueWakesOnEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	got := make(chan Task, 1)
	go func() {
		tk, err := q.Dequeue(context.Background())
		if err == nil {
			got <- tk
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Task{Seq: 42})
	select {
	case tk := <-got:
		if tk.Seq != 42 {
			t.Fatalf("seq = %d", tk.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked dequeue never woke up")
	}
}

func TestQueueDeliversEachTaskOnce(t *testing.T) {
	t.Parallel()

	const total = 2000
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int]int, total)
	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[tk.Seq]++
				done := len(seen) == total
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}
	for i := 1; i <= total; i++ {
		q.Enqueue(Task{Seq: i})
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("saw %d distinct tasks, want %d", len(seen), total)
	}
	for seq, n := range seen {
		if n != 1 {
			t.Fatalf("task %d delivered %d times", seq, n)
		}
	}
}
