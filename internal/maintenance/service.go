// Package maintenance runs periodic housekeeping on a cron: a fleet status
// summary line and retention pruning of stored sightings.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"pogoscan/internal/notifier"
	"pogoscan/internal/scan"
	logx "pogoscan/pkg/logx"
)

type Config struct {
	Timezone       string // IANA name; empty means local
	StatusSchedule string
	PruneSchedule  string
	Retention      time.Duration // zero disables pruning
}

// Pruner drops records older than the cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// WriterStats reports the persistence queue counters.
type WriterStats interface {
	Len() int
	Stats() (written, dropped uint64)
}

// NotifierStats reports the notification pipeline counters.
type NotifierStats interface {
	Stats() notifier.Stats
}

type Deps struct {
	Report   func() scan.Report // nil disables the status job
	Store    Pruner             // nil disables the prune job
	Writer   WriterStats
	Notifier NotifierStats
	Log      logx.Logger
}

// RunInfo describes the last run of a job.
type RunInfo struct {
	Spec     string        `json:"spec"`
	Runs     uint64        `json:"runs"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Next     time.Time     `json:"next,omitempty"`
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	id      cron.EntryID
}

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu   sync.Mutex
	c    *cron.Cron
	jobs []*job
	runs map[string]*RunInfo
	ctx  context.Context
}

func New(cfg Config, deps Deps) *Service {
	if cfg.StatusSchedule == "" {
		cfg.StatusSchedule = "@every 1m"
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "0 * * * *"
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With(logx.String("comp", "maintenance")),
		now:  time.Now,
		runs: map[string]*RunInfo{},
	}
}

// Start validates the schedules and starts the cron. Jobs run with a
// context derived from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("maintenance timezone %q: %w", tz, err)
		}
		loc = l
	}

	var jobs []*job
	if s.deps.Report != nil {
		jobs = append(jobs, &job{name: "status", spec: s.cfg.StatusSchedule, timeout: 5 * time.Second, run: s.logStatus})
	}
	if s.deps.Store != nil && s.cfg.Retention > 0 {
		jobs = append(jobs, &job{name: "prune", spec: s.cfg.PruneSchedule, timeout: 5 * time.Minute, run: s.prune})
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, j := range jobs {
		spec, _, err := ParseSchedule(j.spec)
		if err != nil {
			return fmt.Errorf("maintenance %s: %w", j.name, err)
		}
		j.spec = spec
		jj := j
		id, err := c.AddFunc(spec, func() { s.runJob(jj) })
		if err != nil {
			return fmt.Errorf("maintenance %s: %w", j.name, err)
		}
		j.id = id
		s.runs[j.name] = &RunInfo{Spec: spec}
	}

	s.ctx = ctx
	s.jobs = jobs
	s.c = c
	c.Start()
	s.log.Info("maintenance started", logx.Int("jobs", len(jobs)), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the cron and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out; jobs still running")
	}
}

// Runs reports per-job run info, including the next scheduled time.
func (s *Service) Runs() map[string]RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]RunInfo, len(s.runs))
	for name, ri := range s.runs {
		out[name] = *ri
	}
	if s.c != nil {
		for _, j := range s.jobs {
			ri := out[j.name]
			ri.Next = s.c.Entry(j.id).Next
			out[j.name] = ri
		}
	}
	return out
}

func (s *Service) runJob(j *job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, j.timeout)
	start := s.now()
	err := j.run(ctx)
	cancel()
	dur := s.now().Sub(start)

	s.mu.Lock()
	ri := s.runs[j.name]
	ri.Runs++
	ri.LastRun = start
	ri.Duration = dur
	ri.Error = ""
	if err != nil {
		ri.Error = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("maintenance job failed", logx.String("job", j.name), logx.Duration("dur", dur), logx.Err(err))
	}
}

func (s *Service) logStatus(context.Context) error {
	r := s.deps.Report()
	fields := []logx.Field{
		logx.String("state", string(r.Overseer.State)),
		logx.Bool("paused", r.Paused),
		logx.Int("queue", r.Queue.Len),
		logx.String("success", humanize.Comma(int64(r.Totals.Success))),
		logx.String("no_items", humanize.Comma(int64(r.Totals.NoItems))),
		logx.String("failed", humanize.Comma(int64(r.Totals.Failed))),
		logx.Uint64("reconnects", r.Totals.Reconnects),
		logx.Int("cooling_off", r.Totals.CoolingOff),
	}
	if !r.Overseer.LastPassAt.IsZero() {
		fields = append(fields, logx.String("last_pass", humanize.RelTime(r.Overseer.LastPassAt, s.now(), "ago", "from now")))
	}
	if w := s.deps.Writer; w != nil {
		written, dropped := w.Stats()
		fields = append(fields,
			logx.String("stored", humanize.Comma(int64(written))),
			logx.Uint64("store_dropped", dropped),
			logx.Int("store_backlog", w.Len()),
		)
	}
	if n := s.deps.Notifier; n != nil {
		st := n.Stats()
		fields = append(fields,
			logx.Uint64("notified", st.Sent),
			logx.Uint64("notify_failed", st.Failed),
			logx.Uint64("notify_dropped", st.Dropped),
		)
	}
	s.log.Info("scan status", fields...)
	return nil
}

func (s *Service) prune(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.deps.Store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("pruned old records",
			logx.String("removed", humanize.Comma(n)),
			logx.Time("before", cutoff),
		)
	}
	return nil
}

// cronLogger adapts logx to cron's logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
