package scan

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/geo"
	"pogoscan/internal/mapclient"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// ErrTooManyLoginAttempts ends the current session; the worker reconnects.
var ErrTooManyLoginAttempts = errors.New("exceeded login attempts")

// errCooledDown asks the outer loop for a fresh session.
var errCooledDown = errors.New("cooldown finished")

// Session is one authenticated connection to the map service.
// *mapclient.Session implements it.
type Session interface {
	Login(ctx context.Context) error
	SetPosition(loc geo.Location)
	TokenExpiry() time.Time
	FetchNearby(ctx context.Context, loc geo.Location) (*mapclient.Response, error)
}

// SessionFactory builds an unauthenticated session for an account.
type SessionFactory func(acct model.Account) (Session, error)

// Dispatcher turns a response into records and returns how many were new.
// *mapparse.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, resp *mapclient.Response, at geo.Location) (int, error)
}

type WorkerConfig struct {
	ScanDelay    time.Duration
	LoginRetries int
	LoginDelay   time.Duration
	// LoginMargin is how much token lifetime must remain to skip a login.
	LoginMargin time.Duration
	// MaxFailures is the consecutive failure streak a session survives;
	// one more starts the cooldown.
	MaxFailures int
	Cooldown    time.Duration
	// CooldownRefresh is how often the status message is rewritten while
	// cooling down.
	CooldownRefresh time.Duration
	JitterMeters    float64
	StaggerStep     time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.ScanDelay < 0 {
		c.ScanDelay = 0
	}
	if c.LoginRetries <= 0 {
		c.LoginRetries = 3
	}
	if c.LoginMargin <= 0 {
		c.LoginMargin = 60 * time.Second
	}
	if c.MaxFailures < 0 {
		c.MaxFailures = 0
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Hour
	}
	if c.CooldownRefresh <= 0 {
		c.CooldownRefresh = 5 * time.Minute
	}
	if c.StaggerStep < 0 {
		c.StaggerStep = 0
	}
	return c
}

// PassSource reports which pass is current. *Overseer implements it.
type PassSource interface {
	CurrentPass() string
}

type WorkerDeps struct {
	Queue      *Queue
	NewSession SessionFactory
	Dispatcher Dispatcher
	// Pause and Passes let a worker drop a task that went stale while it
	// waited for its start time. Both are optional.
	Pause  *PauseFlag
	Passes PassSource
	Bus    eventbus.Bus
	Log    logx.Logger
}

// Worker owns one account and scans tasks from the shared queue until its
// context ends. Errors never stop it; too many failures put it to sleep.
type Worker struct {
	index int
	acct  model.Account
	cfg   WorkerConfig

	queue      *Queue
	newSession SessionFactory
	dispatch   Dispatcher
	pause      *PauseFlag
	passes     PassSource
	bus        eventbus.Bus
	log        logx.Logger
	rng        *rand.Rand

	status workerStatus
}

func NewWorker(index int, acct model.Account, cfg WorkerConfig, d WorkerDeps) *Worker {
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	w := &Worker{
		index:      index,
		acct:       acct,
		cfg:        cfg.withDefaults(),
		queue:      d.Queue,
		newSession: d.NewSession,
		dispatch:   d.Dispatcher,
		pause:      d.Pause,
		passes:     d.Passes,
		bus:        d.Bus,
		log:        d.Log.With(logx.String("comp", "worker"), logx.Int("worker", index), logx.String("user", acct.Username)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(index))),
	}
	w.status.s = WorkerSnapshot{
		ID:        fmt.Sprintf("worker-%d", index),
		Username:  acct.Username,
		Message:   "Waiting to start",
		UpdatedAt: time.Now(),
	}
	return w
}

// Snapshot returns a copy of the worker's status.
func (w *Worker) Snapshot() WorkerSnapshot { return w.status.snapshot() }

// Run loops connect → scan → (cooldown) until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if d := w.staggerDelay(); d > 0 {
		w.status.message(fmt.Sprintf("Delaying start by %s", d.Round(time.Millisecond)))
		if !sleepCtx(ctx, d) {
			return nil
		}
	}

	first := true
	for ctx.Err() == nil {
		w.status.update(func(s *WorkerSnapshot) {
			s.Fail = 0
			if !first {
				s.Reconnects++
			}
			s.CooldownUntil = time.Time{}
			s.Message = "Connecting"
		})
		if !first {
			w.bus.Publish(eventbus.Event{Type: eventbus.TypeReconnect, Data: map[string]any{"worker": w.index, "user": w.acct.Username}})
		}
		first = false

		err := w.connectAndScan(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errCooledDown):
			w.log.Info("cooldown over, reconnecting")
		case err != nil:
			w.log.Warn("session ended, reconnecting", logx.Err(err))
		}
	}
	return nil
}

func (w *Worker) staggerDelay() time.Duration {
	step := float64(w.cfg.StaggerStep)
	if step <= 0 {
		return 0
	}
	d := float64(w.index)*step + (w.rng.Float64()-0.5)*step/2
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

func (w *Worker) connectAndScan(ctx context.Context) error {
	sess, err := w.newSession(w.acct)
	if err != nil {
		w.status.fail(fmt.Sprintf("Could not create session: %v", err))
		w.log.Error("create session failed", logx.Err(err))
		w.pace(ctx)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fails := w.status.failures(); fails > w.cfg.MaxFailures {
			w.cooldown(ctx, fails)
			return errCooledDown
		}

		w.status.message("Waiting for task")
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := w.process(ctx, sess, task); err != nil {
			return err
		}
	}
}

// process handles one task. A non-nil error ends the session.
func (w *Worker) process(ctx context.Context, sess Session, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())), logx.Int("seq", task.Seq))
			w.status.fail(fmt.Sprintf("Exception on step %d: %v", task.Seq, r))
			w.pace(ctx)
			err = nil
		}
	}()

	w.status.update(func(s *WorkerSnapshot) { s.LastSeq = task.Seq })

	if !task.NotBefore.IsZero() {
		if wait := time.Until(task.NotBefore); wait > 0 {
			w.status.message(fmt.Sprintf("Waiting %s for step %d", wait.Round(time.Second), task.Seq))
			if !w.waitFor(ctx, task) {
				return ctx.Err()
			}
		}
	}
	if reason := w.stale(task); reason != "" {
		w.status.update(func(s *WorkerSnapshot) {
			s.Discarded++
			s.Message = fmt.Sprintf("Dropped step %d: %s", task.Seq, reason)
		})
		w.log.Debug("stale task dropped", logx.Int("seq", task.Seq), logx.String("pass", task.Pass), logx.String("reason", reason))
		w.publishTask(task, "discarded", 0)
		return nil
	}
	if !task.NotAfter.IsZero() && time.Now().After(task.NotAfter) {
		w.status.update(func(s *WorkerSnapshot) {
			s.Skipped++
			s.Message = fmt.Sprintf("Too late for step %d; skipping", task.Seq)
		})
		w.log.Debug("task expired before scan", logx.Int("seq", task.Seq), logx.Time("not_after", task.NotAfter))
		w.publishTask(task, "skipped", 0)
		w.pace(ctx)
		return nil
	}

	loc := task.Location
	if w.cfg.JitterMeters > 0 {
		loc = geo.Jitter(loc, w.cfg.JitterMeters, w.rng)
	}
	sess.SetPosition(loc)

	if err := w.checkLogin(ctx, sess); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.status.fail(fmt.Sprintf("Login failed: %v", err))
		w.log.Error("login failed", logx.Err(err))
		w.publishTask(task, "login_failed", 0)
		w.pace(ctx)
		return err
	}

	w.status.message(fmt.Sprintf("Searching at step %d", task.Seq))
	resp, err := sess.FetchNearby(ctx, loc)
	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		w.status.fail(fmt.Sprintf("Map fetch failed at step %d", task.Seq))
		w.log.Warn("map fetch failed", logx.Err(err), logx.Int("seq", task.Seq), logx.Coord("at", loc.Lat, loc.Lng))
		w.publishTask(task, "fetch_failed", 0)
		w.pace(ctx)
		return nil
	}

	n, err := w.dispatch.Dispatch(ctx, resp, loc)
	if err != nil {
		w.status.fail(fmt.Sprintf("Map parse failed at step %d", task.Seq))
		w.log.Error("map parse failed", logx.Err(err), logx.Int("seq", task.Seq),
			logx.Coord("at", loc.Lat, loc.Lng), logx.Int("cells", len(resp.Cells)))
		w.publishTask(task, "parse_failed", 0)
		w.pace(ctx)
		return nil
	}

	outcome := "no_items"
	w.status.update(func(s *WorkerSnapshot) {
		if n > 0 {
			s.Success++
			outcome = "success"
			s.Message = fmt.Sprintf("Step %d: %d new items", task.Seq, n)
		} else {
			s.NoItems++
			s.Message = fmt.Sprintf("Step %d: nothing new", task.Seq)
		}
	})
	w.publishTask(task, outcome, n)
	w.pace(ctx)
	return nil
}

// staleCheckEvery bounds how long a waiting worker goes without noticing a
// pause or relocation.
const staleCheckEvery = 250 * time.Millisecond

// waitFor sleeps until task.NotBefore, waking early once the task is stale.
// It returns false only when ctx ends.
func (w *Worker) waitFor(ctx context.Context, task Task) bool {
	for {
		wait := time.Until(task.NotBefore)
		if wait <= 0 || w.stale(task) != "" {
			return true
		}
		if !sleepCtx(ctx, min(wait, staleCheckEvery)) {
			return false
		}
	}
}

// stale reports why task must not be scanned, or "" when it is still due.
func (w *Worker) stale(task Task) string {
	if w.pause != nil && w.pause.IsSet() {
		return "paused"
	}
	if w.passes != nil && task.Pass != "" && w.passes.CurrentPass() != task.Pass {
		return "pass replaced"
	}
	return ""
}

// checkLogin skips authentication while the token has enough lifetime
// left, otherwise tries up to LoginRetries times.
func (w *Worker) checkLogin(ctx context.Context, sess Session) error {
	if exp := sess.TokenExpiry(); !exp.IsZero() && time.Until(exp) > w.cfg.LoginMargin {
		return nil
	}

	var last error
	for attempt := 1; attempt <= w.cfg.LoginRetries; attempt++ {
		w.status.message(fmt.Sprintf("Logging in (attempt %d/%d)", attempt, w.cfg.LoginRetries))
		last = sess.Login(ctx)
		if last == nil {
			w.log.Debug("logged in", logx.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Warn("login attempt failed", logx.Int("attempt", attempt), logx.Err(last))
		if attempt < w.cfg.LoginRetries && !sleepCtx(ctx, w.cfg.LoginDelay) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w (%d): %v", ErrTooManyLoginAttempts, w.cfg.LoginRetries, last)
}

func (w *Worker) cooldown(ctx context.Context, fails int) {
	until := time.Now().Add(w.cfg.Cooldown)
	w.log.Warn("too many failures, account may be banned; cooling down",
		logx.Int("fails", fails), logx.Time("until", until))
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeCooldown, Data: map[string]any{
		"worker": w.index, "user": w.acct.Username, "until": until,
	}})
	w.status.update(func(s *WorkerSnapshot) { s.CooldownUntil = until })

	for {
		left := time.Until(until)
		if left <= 0 {
			return
		}
		w.status.message(fmt.Sprintf("Failed %d times (%d total, %d max); possibly banned, resuming %s",
			fails, w.status.snapshot().FailedTotal, w.cfg.MaxFailures, humanize.Time(until)))
		if !sleepCtx(ctx, min(left, w.cfg.CooldownRefresh)) {
			return
		}
	}
}

func (w *Worker) pace(ctx context.Context) {
	sleepCtx(ctx, w.cfg.ScanDelay)
}

func (w *Worker) publishTask(t Task, outcome string, items int) {
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDone, Data: map[string]any{
		"worker":  w.index,
		"pass":    t.Pass,
		"seq":     t.Seq,
		"outcome": outcome,
		"items":   items,
	}})
}

// sleepCtx reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
