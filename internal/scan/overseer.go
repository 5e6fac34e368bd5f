package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	"pogoscan/internal/spawn"
	logx "pogoscan/pkg/logx"
)

// Scan modes.
const (
	ModeHex         = "hex"
	ModeSpawnPoints = "spawn-points"
)

// spawnOnlyRadiusMeters is how close a hex point must be to a known spawn
// point to survive the spawn-points-only filter.
const spawnOnlyRadiusMeters = 70

// Scheduler builds a spawn point schedule. *spawn.Builder implements it.
type Scheduler interface {
	Build(ctx context.Context, center geo.Location, rings int, now time.Time) (spawn.Result, error)
}

// SpawnLookup lists known spawn points inside a box.
type SpawnLookup interface {
	SpawnPoints(ctx context.Context, b geo.Bounds) ([]model.SpawnPoint, error)
}

type OverseerConfig struct {
	Mode  string
	Rings int
	// NoPokemon widens the hex step to fort visibility range.
	NoPokemon bool
	// SpawnPointsOnly drops hex points with no known spawn point nearby.
	SpawnPointsOnly bool

	Tick              time.Duration
	ScheduleRetryBase time.Duration
	ScheduleRetryMax  time.Duration
}

func (c OverseerConfig) withDefaults() OverseerConfig {
	if c.Mode == "" {
		c.Mode = ModeHex
	}
	if c.Rings < 1 {
		c.Rings = 1
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.ScheduleRetryBase <= 0 {
		c.ScheduleRetryBase = 5 * time.Second
	}
	if c.ScheduleRetryMax < c.ScheduleRetryBase {
		c.ScheduleRetryMax = 5 * time.Minute
		if c.ScheduleRetryMax < c.ScheduleRetryBase {
			c.ScheduleRetryMax = c.ScheduleRetryBase
		}
	}
	return c
}

func (c OverseerConfig) method() string {
	if c.Mode == ModeSpawnPoints {
		return "Spawn Point"
	}
	return "Hex Grid"
}

func (c OverseerConfig) stepKm() float64 {
	if c.NoPokemon {
		return geo.StepFortsKm
	}
	return geo.StepPokemonKm
}

// Overseer decides what the workers scan. Once per tick it drains the queue
// on pause, adopts the newest center, and refills the queue once it is empty.
type Overseer struct {
	cfg    OverseerConfig
	queue  *Queue
	pause  *PauseFlag
	feed   *LocationFeed
	sched  Scheduler   // spawn-points mode
	lookup SpawnLookup // hex spawn-points-only filter
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	// Loop state, touched only by the Run goroutine.
	center     *geo.Location
	retryDelay time.Duration
	retryAt    time.Time

	mu   sync.Mutex
	snap OverseerSnapshot
	// live is the pass workers may still scan; empty after a pause or a
	// relocation until the next fill.
	live string
}

type OverseerDeps struct {
	Queue     *Queue
	Pause     *PauseFlag
	Locations *LocationFeed
	Scheduler Scheduler
	Lookup    SpawnLookup
	Bus       eventbus.Bus
	Log       logx.Logger
}

func NewOverseer(cfg OverseerConfig, d OverseerDeps) *Overseer {
	cfg = cfg.withDefaults()
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Pause == nil {
		d.Pause = &PauseFlag{}
	}
	if d.Locations == nil {
		d.Locations = &LocationFeed{}
	}
	o := &Overseer{
		cfg:    cfg,
		queue:  d.Queue,
		pause:  d.Pause,
		feed:   d.Locations,
		sched:  d.Scheduler,
		lookup: d.Lookup,
		bus:    d.Bus,
		log:    d.Log.With(logx.String("comp", "overseer"), logx.String("mode", cfg.Mode)),
		now:    time.Now,
	}
	o.snap = OverseerSnapshot{Method: cfg.method(), State: StateInitializing, Message: "Initializing", UpdatedAt: o.now()}
	return o
}

// Run ticks until ctx ends.
func (o *Overseer) Run(ctx context.Context) error {
	o.log.Info("search overseer starting", logx.Int("rings", o.cfg.Rings), logx.Duration("tick", o.cfg.Tick))
	t := time.NewTicker(o.cfg.Tick)
	defer t.Stop()
	for {
		o.step(ctx)
		select {
		case <-ctx.Done():
			o.log.Info("search overseer stopped")
			return nil
		case <-t.C:
		}
	}
}

func (o *Overseer) step(ctx context.Context) {
	if o.pause.IsSet() {
		o.retire()
		if n := o.queue.Drain(); n > 0 {
			o.log.Info("scan paused; queue drained", logx.Int("dropped", n))
			o.bus.Publish(eventbus.Event{Type: eventbus.TypePaused, Data: map[string]any{"dropped": n}})
		}
		o.setStatus(StatePaused, "Scanning is paused")
		return
	}

	if loc, ok := o.feed.Latest(); ok {
		c := loc
		o.center = &c
		o.retire()
		n := o.queue.Drain()
		// A new center invalidates any pending schedule backoff.
		o.retryDelay, o.retryAt = 0, time.Time{}
		o.log.Info("new location caught, moving search grid",
			logx.Coord("center", loc.Lat, loc.Lng), logx.Int("dropped", n))
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeRelocated, Data: map[string]any{"center": loc, "dropped": n}})
		o.mu.Lock()
		o.snap.Center = &c
		o.mu.Unlock()
	}

	if o.center == nil {
		o.setStatus(StateWaiting, "Waiting for location")
		return
	}

	if !o.queue.Empty() {
		o.setStatus(StateProcessing, "Processing search queue")
		return
	}

	now := o.now()
	if !o.retryAt.IsZero() && now.Before(o.retryAt) {
		o.setStatus(StateBackoff, fmt.Sprintf("Schedule unavailable; retrying in %s", o.retryAt.Sub(now).Round(time.Second)))
		return
	}
	o.fill(ctx, now)
}

func (o *Overseer) fill(ctx context.Context, now time.Time) {
	o.log.Debug("search queue empty, restarting loop")
	o.setStatus(StateFilling, "Queuing steps")

	tasks, err := o.generate(ctx, *o.center, now)
	if err != nil {
		o.backoff(now, err)
		return
	}
	o.retryDelay, o.retryAt = 0, time.Time{}

	if len(tasks) == 0 {
		o.log.Warn("nothing to scan")
		o.setStatus(StateFilling, "Nothing to scan")
		return
	}

	pass := uuid.NewString()
	// Publish the pass before its first task becomes visible to workers.
	o.mu.Lock()
	o.live = pass
	o.mu.Unlock()
	for i := range tasks {
		tasks[i].Seq = i + 1
		tasks[i].Pass = pass
		o.queue.Enqueue(tasks[i])
	}
	o.log.Info("scheduling pass queued", logx.String("pass", pass), logx.Int("tasks", len(tasks)))
	o.bus.Publish(eventbus.Event{Type: eventbus.TypePass, Data: map[string]any{"pass": pass, "tasks": len(tasks)}})

	o.mu.Lock()
	o.snap.Passes++
	o.snap.LastPass = pass
	o.snap.LastPassSize = len(tasks)
	o.snap.LastPassAt = now
	o.snap.RetryAt = time.Time{}
	o.mu.Unlock()
	o.setStatus(StateProcessing, "Processing search queue")
}

func (o *Overseer) backoff(now time.Time, err error) {
	if o.retryDelay <= 0 {
		o.retryDelay = o.cfg.ScheduleRetryBase
	} else {
		o.retryDelay *= 2
	}
	if o.retryDelay > o.cfg.ScheduleRetryMax {
		o.retryDelay = o.cfg.ScheduleRetryMax
	}
	o.retryAt = now.Add(o.retryDelay)

	msg := "Schedule generation failed"
	if errors.Is(err, spawn.ErrNoSpawnData) {
		msg = "No spawn points available"
	}
	o.log.Error(msg, logx.Err(err), logx.Duration("retry_in", o.retryDelay))
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFail, Data: map[string]any{"err": err.Error(), "retry_in": o.retryDelay.String()}})

	o.mu.Lock()
	o.snap.RetryAt = o.retryAt
	o.mu.Unlock()
	o.setStatus(StateBackoff, fmt.Sprintf("%s; retrying in %s", msg, o.retryDelay))
}

func (o *Overseer) generate(ctx context.Context, center geo.Location, now time.Time) ([]Task, error) {
	if o.cfg.Mode == ModeSpawnPoints {
		if o.sched == nil {
			return nil, spawn.ErrNoSpawnData
		}
		res, err := o.sched.Build(ctx, center, o.cfg.Rings, now)
		if err != nil {
			return nil, err
		}
		tasks := make([]Task, len(res.Points))
		for i, e := range res.Points {
			tasks[i] = Task{Location: e.Point.Location, NotBefore: e.NotBefore, NotAfter: e.NotAfter}
		}
		return tasks, nil
	}

	step := o.cfg.stepKm()
	grid := geo.HexGrid(center, o.cfg.Rings, step)
	if o.cfg.SpawnPointsOnly && !o.cfg.NoPokemon && o.lookup != nil {
		sps, err := o.lookup.SpawnPoints(ctx, geo.HexBounds(center, o.cfg.Rings, step))
		if err != nil {
			return nil, fmt.Errorf("load spawn points for hex filter: %w", err)
		}
		if len(sps) == 0 {
			o.log.Warn("no spawn points found in the area; run a normal scan here first")
		}
		grid = filterNearSpawns(grid, sps)
	}

	tasks := make([]Task, len(grid))
	for i, loc := range grid {
		tasks[i] = Task{Location: loc}
	}
	return tasks, nil
}

func filterNearSpawns(grid []geo.Location, sps []model.SpawnPoint) []geo.Location {
	out := grid[:0]
	for _, loc := range grid {
		for _, sp := range sps {
			if geo.DistanceMeters(loc, sp.Location) <= spawnOnlyRadiusMeters {
				out = append(out, loc)
				break
			}
		}
	}
	return out
}

// CurrentPass is the id of the pass whose tasks are still worth scanning.
func (o *Overseer) CurrentPass() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live
}

func (o *Overseer) retire() {
	o.mu.Lock()
	o.live = ""
	o.mu.Unlock()
}

func (o *Overseer) setStatus(state OverseerState, msg string) {
	o.mu.Lock()
	o.snap.State = state
	o.snap.Message = msg
	o.snap.UpdatedAt = o.now()
	o.mu.Unlock()
}

// Snapshot returns a copy of the overseer status.
func (o *Overseer) Snapshot() OverseerSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.snap
	if s.Center != nil {
		c := *s.Center
		s.Center = &c
	}
	return s
}
