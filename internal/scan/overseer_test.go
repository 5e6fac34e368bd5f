package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	"pogoscan/internal/spawn"
	logx "pogoscan/pkg/logx"
)

type fakeScheduler struct {
	calls int
	res   spawn.Result
	err   error
}

func (f *fakeScheduler) Build(context.Context, geo.Location, int, time.Time) (spawn.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeLookup struct{ points []model.SpawnPoint }

func (f fakeLookup) SpawnPoints(context.Context, geo.Bounds) ([]model.SpawnPoint, error) {
	return f.points, nil
}

var testCenter = geo.Location{Lat: 40.7580, Lng: -73.9855}

func newTestOverseer(cfg OverseerConfig, d OverseerDeps) *Overseer {
	if d.Queue == nil {
		d.Queue = NewQueue()
	}
	d.Log = logx.Nop()
	return NewOverseer(cfg, d)
}

func TestOverseerWaitsForLocation(t *testing.T) {
	t.Parallel()

	o := newTestOverseer(OverseerConfig{Rings: 3}, OverseerDeps{})
	o.step(context.Background())
	if s := o.Snapshot(); s.State != StateWaiting || s.Message != "Waiting for location" {
		t.Fatalf("snapshot = %+v", s)
	}
	if !o.queue.Empty() {
		t.Fatal("queue filled without a center")
	}
}

func TestOverseerFillsHexPass(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	feed := &LocationFeed{}
	o := newTestOverseer(OverseerConfig{Rings: 3}, OverseerDeps{Locations: feed, Bus: bus})
	feed.Push(testCenter)
	o.step(context.Background())

	q := o.queue
	if q.Len() != geo.HexCount(3) {
		t.Fatalf("queued %d, want %d", q.Len(), geo.HexCount(3))
	}
	first, _ := q.TryDequeue()
	if first.Seq != 1 || first.Location != testCenter || first.Pass == "" {
		t.Fatalf("first task = %+v", first)
	}
	if !first.NotBefore.IsZero() || !first.NotAfter.IsZero() {
		t.Fatalf("hex tasks must be unconstrained: %+v", first)
	}
	second, _ := q.TryDequeue()
	if second.Seq != 2 || second.Pass != first.Pass {
		t.Fatalf("second task = %+v", second)
	}

	// Queue not empty: no refill.
	o.step(context.Background())
	if q.Len() != geo.HexCount(3)-2 {
		t.Fatalf("refilled while backlog present: len=%d", q.Len())
	}
	if s := o.Snapshot(); s.State != StateProcessing || s.Passes != 1 {
		t.Fatalf("snapshot = %+v", s)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 2 || types[0] != eventbus.TypeRelocated || types[1] != eventbus.TypePass {
		t.Fatalf("events = %v", types)
	}
}

func TestOverseerPauseDrainsWithinOneTick(t *testing.T) {
	t.Parallel()

	pause := &PauseFlag{}
	feed := &LocationFeed{}
	o := newTestOverseer(OverseerConfig{Rings: 4}, OverseerDeps{Pause: pause, Locations: feed})
	feed.Push(testCenter)
	o.step(context.Background())
	if o.queue.Empty() {
		t.Fatal("expected a filled queue")
	}

	pause.Set(true)
	o.step(context.Background())
	if !o.queue.Empty() {
		t.Fatalf("queue not drained after one paused tick: len=%d", o.queue.Len())
	}
	for i := 0; i < 3; i++ {
		o.step(context.Background())
		if !o.queue.Empty() {
			t.Fatal("tasks generated while paused")
		}
	}
	if s := o.Snapshot(); s.State != StatePaused {
		t.Fatalf("state = %s", s.State)
	}

	pause.Set(false)
	o.step(context.Background())
	if o.queue.Len() != geo.HexCount(4) {
		t.Fatalf("after resume len = %d", o.queue.Len())
	}
}

func TestOverseerRelocationReplacesPass(t *testing.T) {
	t.Parallel()

	feed := &LocationFeed{}
	o := newTestOverseer(OverseerConfig{Rings: 2}, OverseerDeps{Locations: feed})
	feed.Push(testCenter)
	o.step(context.Background())
	old, _ := o.queue.TryDequeue()

	moved := geo.Location{Lat: 51.5, Lng: -0.12}
	feed.Push(geo.Location{Lat: 1, Lng: 1})
	feed.Push(moved)
	o.step(context.Background())

	if o.queue.Len() != geo.HexCount(2) {
		t.Fatalf("len = %d, want a full new pass", o.queue.Len())
	}
	head, _ := o.queue.TryDequeue()
	if head.Location != moved || head.Pass == old.Pass || head.Seq != 1 {
		t.Fatalf("head after relocation = %+v", head)
	}
	if c := o.Snapshot().Center; c == nil || *c != moved {
		t.Fatalf("center = %v", c)
	}
}

func TestOverseerSpawnModeBacksOff(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{err: spawn.ErrNoSpawnData}
	feed := &LocationFeed{}
	o := newTestOverseer(OverseerConfig{Mode: ModeSpawnPoints, ScheduleRetryBase: time.Minute, ScheduleRetryMax: 3 * time.Minute},
		OverseerDeps{Locations: feed, Scheduler: sched})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }

	feed.Push(testCenter)
	o.step(context.Background())
	if sched.calls != 1 || o.Snapshot().State != StateBackoff {
		t.Fatalf("calls=%d state=%s", sched.calls, o.Snapshot().State)
	}

	now = now.Add(30 * time.Second)
	o.step(context.Background())
	if sched.calls != 1 {
		t.Fatalf("retried before backoff elapsed")
	}

	now = now.Add(31 * time.Second)
	o.step(context.Background())
	if sched.calls != 2 || o.retryDelay != 2*time.Minute {
		t.Fatalf("calls=%d delay=%s", sched.calls, o.retryDelay)
	}

	// Delay is capped.
	now = now.Add(2 * time.Minute)
	o.step(context.Background())
	now = now.Add(4 * time.Minute)
	o.step(context.Background())
	if o.retryDelay != 3*time.Minute {
		t.Fatalf("delay = %s, want cap", o.retryDelay)
	}

	// Success clears the backoff and enqueues the schedule in order.
	nb := now.Add(time.Minute)
	sched.err = nil
	sched.res = spawn.Result{Points: []spawn.Entry{
		{Point: model.SpawnPoint{Location: geo.Location{Lat: 1}}, NotBefore: nb, NotAfter: nb.Add(10 * time.Minute)},
		{Point: model.SpawnPoint{Location: geo.Location{Lat: 2}}, NotBefore: nb.Add(time.Minute)},
	}}
	now = now.Add(4 * time.Minute)
	o.step(context.Background())
	if o.queue.Len() != 2 || !o.retryAt.IsZero() {
		t.Fatalf("len=%d retryAt=%v", o.queue.Len(), o.retryAt)
	}
	tk, _ := o.queue.TryDequeue()
	if tk.Seq != 1 || !tk.NotBefore.Equal(nb) || !tk.NotAfter.Equal(nb.Add(10*time.Minute)) {
		t.Fatalf("task = %+v", tk)
	}
}

func TestOverseerRelocationResetsBackoff(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{err: errors.New("db down")}
	feed := &LocationFeed{}
	o := newTestOverseer(OverseerConfig{Mode: ModeSpawnPoints}, OverseerDeps{Locations: feed, Scheduler: sched})
	feed.Push(testCenter)
	o.step(context.Background())
	if sched.calls != 1 {
		t.Fatal("expected one build")
	}
	feed.Push(geo.Location{Lat: 10, Lng: 10})
	o.step(context.Background())
	if sched.calls != 2 {
		t.Fatalf("relocation did not retry immediately: calls=%d", sched.calls)
	}
}

func TestOverseerSpawnPointsOnlyFilter(t *testing.T) {
	t.Parallel()

	feed := &LocationFeed{}
	lookup := fakeLookup{points: []model.SpawnPoint{{ID: "a", Location: testCenter}}}
	o := newTestOverseer(OverseerConfig{Rings: 3, SpawnPointsOnly: true}, OverseerDeps{Locations: feed, Lookup: lookup})
	feed.Push(testCenter)
	o.step(context.Background())

	if o.queue.Len() != 1 {
		t.Fatalf("len = %d, want only the center", o.queue.Len())
	}

	// Forts mode ignores the filter.
	feed2 := &LocationFeed{}
	o2 := newTestOverseer(OverseerConfig{Rings: 3, SpawnPointsOnly: true, NoPokemon: true}, OverseerDeps{Locations: feed2, Lookup: lookup})
	feed2.Push(testCenter)
	o2.step(context.Background())
	if o2.queue.Len() != geo.HexCount(3) {
		t.Fatalf("no_pokemon len = %d", o2.queue.Len())
	}
}

func TestOverseerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	o := newTestOverseer(OverseerConfig{Tick: 5 * time.Millisecond}, OverseerDeps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("overseer did not stop")
	}
}
