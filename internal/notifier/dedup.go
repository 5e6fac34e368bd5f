package notifier

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// suppressor remembers, per dedup key, until when repeats are dropped.
// Expiries live in a min-heap so pruning and capacity eviction pop the
// soonest-expiring keys first.
type suppressor struct {
	mu    sync.Mutex
	until map[string]time.Time
	order expiryHeap
}

func newSuppressor() *suppressor {
	return &suppressor{until: map[string]time.Time{}}
}

// active reports whether key is suppressed at now.
func (p *suppressor) active(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.until[key]
	return ok && now.Before(u)
}

// mark suppresses key until the given time, then prunes expired keys and
// trims the set to limit entries.
func (p *suppressor) mark(key string, until, now time.Time, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until[key] = until
	heap.Push(&p.order, expiry{key: key, at: until})

	for len(p.order) > 0 {
		top := p.order[0]
		cur, ok := p.until[top.key]
		switch {
		case !ok || !cur.Equal(top.at):
			// Stale heap entry: the key was re-marked or already removed.
			heap.Pop(&p.order)
		case !now.Before(cur) || (limit > 0 && len(p.until) > limit):
			heap.Pop(&p.order)
			delete(p.until, top.key)
		default:
			return
		}
	}
}

func (p *suppressor) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.until)
}

type expiry struct {
	key string
	at  time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// admit reports whether a notification with key may be sent now, marking it
// for the dedup window when it may. With persistence on, a window recorded
// by a previous run also suppresses.
func (s *Service) admit(ctx context.Context, key string, cfg Config, pch chan dedupWrite) bool {
	now := time.Now()
	if s.dedup.active(key, now) {
		return false
	}

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dedup.mark(key, until, now, cfg.DedupMaxEntries)
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dedup.mark(key, until, now, cfg.DedupMaxEntries)
	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}
