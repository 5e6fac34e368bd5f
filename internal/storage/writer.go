package storage

import (
	"context"
	"sync/atomic"
	"time"

	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// WriterConfig tunes the persistence queue.
type WriterConfig struct {
	Buffer        int           // queued batches before Put starts dropping
	BatchSize     int           // records per flush
	FlushInterval time.Duration // max age of a partial batch
}

// Writer is the persistence queue between the response dispatcher and a
// Store. Put never blocks; Run owns all Store writes.
type Writer struct {
	store Store
	cfg   WriterConfig
	log   logx.Logger
	ch    chan item

	dropped atomic.Uint64
	written atomic.Uint64
}

type item struct {
	sightings []model.Sighting
	forts     []model.Fort
}

func NewWriter(store Store, cfg WriterConfig, log logx.Logger) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Writer{
		store: store,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "storage.writer")),
		ch:    make(chan item, cfg.Buffer),
	}
}

func (w *Writer) PutSightings(s []model.Sighting) { w.put(item{sightings: s}) }
func (w *Writer) PutForts(f []model.Fort)         { w.put(item{forts: f}) }

func (w *Writer) put(it item) {
	select {
	case w.ch <- it:
	default:
		n := w.dropped.Add(1)
		w.log.Warn("persistence queue full; batch dropped", logx.Uint64("dropped_total", n))
	}
}

// Len is the number of queued batches.
func (w *Writer) Len() int { return len(w.ch) }

// Stats returns records written and batches dropped so far.
func (w *Writer) Stats() (written, dropped uint64) {
	return w.written.Load(), w.dropped.Load()
}

// Run flushes when a batch fills up or the flush interval passes. Remaining
// records are flushed once ctx ends.
func (w *Writer) Run(ctx context.Context) error {
	var sightings []model.Sighting
	var forts []model.Fort

	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()
	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.FlushInterval)
	}

	flush := func(fctx context.Context, reason string) {
		if len(sightings) == 0 && len(forts) == 0 {
			return
		}
		t0 := time.Now()
		n := len(sightings) + len(forts)
		if len(sightings) > 0 {
			if err := w.store.SaveSightings(fctx, sightings); err != nil {
				w.log.Error("save sightings failed", logx.Err(err), logx.Int("count", len(sightings)))
			} else {
				w.written.Add(uint64(len(sightings)))
			}
		}
		if len(forts) > 0 {
			if err := w.store.SaveForts(fctx, forts); err != nil {
				w.log.Error("save forts failed", logx.Err(err), logx.Int("count", len(forts)))
			} else {
				w.written.Add(uint64(len(forts)))
			}
		}
		w.log.Debug("flushed", logx.String("reason", reason), logx.Int("records", n), logx.Duration("took", time.Since(t0)))
		sightings, forts = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued, then do a last flush on a fresh context.
			for {
				select {
				case it := <-w.ch:
					sightings = append(sightings, it.sightings...)
					forts = append(forts, it.forts...)
					continue
				default:
				}
				break
			}
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx, "shutdown")
			cancel()
			return nil
		case it := <-w.ch:
			sightings = append(sightings, it.sightings...)
			forts = append(forts, it.forts...)
			if len(sightings)+len(forts) >= w.cfg.BatchSize {
				flush(ctx, "full")
				rearm()
			}
		case <-timer.C:
			flush(ctx, "timer")
			timer.Reset(w.cfg.FlushInterval)
		}
	}
}
