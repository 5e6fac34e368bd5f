package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const recentSize = 32

// Entry is one warn-or-worse line kept for the status endpoint.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Comp    string    `json:"comp,omitempty"`
	Message string    `json:"message"`
	Err     string    `json:"err,omitempty"`
}

// Service owns the sinks. Apply may run concurrently with logging.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	zl     atomic.Pointer[zerolog.Logger]
	recent *recentWriter
}

// New applies cfg and returns a live root Logger bound to the Service.
func New(cfg Config) (*Service, Logger) {
	s := &Service{recent: &recentWriter{}}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() *zerolog.Logger { return s.zl.Load() }

// Apply reopens the file sink and swaps level and outputs. Console output
// is forced on when no other sink is configured.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	outs := []io.Writer{s.recent}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./pogoscan.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if cfg.Console || s.file == nil {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)
}

// Recent returns the latest warn/error entries, oldest first.
func (s *Service) Recent() []Entry { return s.recent.snapshot() }

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// recentWriter keeps a ring of warn-or-worse events. It implements
// zerolog.LevelWriter so lower levels are dropped before decoding.
type recentWriter struct {
	mu   sync.Mutex
	buf  [recentSize]Entry
	next int
	full bool
}

func (r *recentWriter) Write(p []byte) (int, error) { return len(p), nil }

func (r *recentWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	var raw struct {
		Time    time.Time `json:"time"`
		Level   string    `json:"level"`
		Comp    string    `json:"comp"`
		Message string    `json:"message"`
		Err     string    `json:"err"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}
	r.mu.Lock()
	r.buf[r.next] = Entry(raw)
	r.next = (r.next + 1) % recentSize
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *recentWriter) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.buf[:r.next]...)
	}
	out := make([]Entry, 0, recentSize)
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
