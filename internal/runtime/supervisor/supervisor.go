package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "pogoscan/pkg/logx"
)

// Supervisor runs named goroutines under one shared context.
//
// Every goroutine is panic-safe. GoRestart keeps a function alive with
// jittered exponential backoff until the context ends; the overseer and each
// account worker run that way.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	err     error
	started uint64
	active  int64
	units   map[string]*RoutineStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// RoutineStats aggregates all runs of one name.
type RoutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	Active     int64          `json:"active"`
	Started    uint64         `json:"started"`
	FirstError string         `json:"first_error,omitempty"`
	Routines   []RoutineStats `json:"routines"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		units:  map[string]*RoutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure recorded, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Active: s.active, Started: s.started}
	if s.err != nil {
		snap.FirstError = s.err.Error()
	}
	snap.Routines = make([]RoutineStats, 0, len(s.units))
	for _, u := range s.units {
		snap.Routines = append(snap.Routines, *u)
	}
	s.mu.Unlock()

	sort.Slice(snap.Routines, func(i, j int) bool {
		a, b := snap.Routines[i], snap.Routines[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}

// track updates the stats of name under the lock.
func (s *Supervisor) track(name string, fn func(u *RoutineStats)) {
	s.mu.Lock()
	u := s.units[name]
	if u == nil {
		u = &RoutineStats{Name: name}
		s.units[name] = u
	}
	fn(u)
	s.mu.Unlock()
}

func (s *Supervisor) begin(name string, restart bool) time.Time {
	now := time.Now()
	s.track(name, func(u *RoutineStats) {
		u.Started++
		u.Active++
		if restart {
			u.Restarts++
		}
		u.LastStartAt = now
	})
	return now
}

func (s *Supervisor) end(name string, err error, panicked any) {
	s.track(name, func(u *RoutineStats) {
		if u.Active > 0 {
			u.Active--
		}
		if err != nil {
			u.LastErr = err.Error()
		}
		if panicked != nil {
			u.Panics++
			u.LastPanic = fmt.Sprint(panicked)
		}
	})
}

// runGuarded calls fn, turning a panic into an error.
func (s *Supervisor) runGuarded(name string, fn func(context.Context) error) (err error, panicked any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(s.ctx), nil
}

func (s *Supervisor) spawn(fn func()) {
	s.mu.Lock()
	s.started++
	s.active++
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.wg.Done()
		}()
		fn()
	}()
}

// Go runs fn once. An error other than context.Canceled, or a panic, is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		s.begin(name, false)
		s.log.Debug("goroutine started", logx.String("name", name))
		err, p := s.runGuarded(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.end(name, err, p)
			s.fail(err)
		} else {
			s.end(name, nil, p)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	min, max time.Duration
	healthy  time.Duration
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.min = min
		}
		if max > 0 {
			c.max = max
		}
	}
}

// GoRestart runs fn and restarts it after an error or panic until the
// context ends. A nil or context.Canceled return is a clean stop. Restart
// failures are never recorded as the supervisor error.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{min: 250 * time.Millisecond, max: 30 * time.Second, healthy: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.max = max(cfg.max, cfg.min)

	s.spawn(func() {
		delay := cfg.min
		for runs := 0; s.ctx.Err() == nil; runs++ {
			startedAt := s.begin(name, runs > 0)
			err, p := s.runGuarded(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				s.end(name, nil, p)
				return
			}
			s.end(name, fmt.Errorf("%s: %w", name, err), p)

			if time.Since(startedAt) >= cfg.healthy {
				delay = cfg.min
			}
			wait := delay + time.Duration(rand.Int64N(int64(delay)/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, cfg.max)
		}
	})
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
