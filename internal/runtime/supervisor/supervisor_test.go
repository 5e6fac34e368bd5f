package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("boom") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "fails: boom") {
		t.Fatalf("err = %v", err)
	}
	if snap := s.Snapshot(); snap.Active != 0 || snap.Started != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("worker.0", func(context.Context) error { panic("bad cell") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil || !strings.Contains(err.Error(), "bad cell") {
		t.Fatalf("err = %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Routines) != 1 || snap.Routines[0].Panics != 1 {
		t.Fatalf("routines = %+v", snap.Routines)
	}
}

func TestGoRestartRetriesUntilCleanStop(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("overseer", func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("schedule failed")
		case 2:
			panic("nil center")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("restart failures must not surface: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	r := s.Snapshot().Routines[0]
	if r.Name != "overseer" || r.Restarts != 2 || r.Panics != 1 || r.Started != 3 {
		t.Fatalf("stats = %+v", r)
	}
}

func TestStopEndsRestartLoop(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.GoRestart("worker.1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
