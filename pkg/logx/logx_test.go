package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "worker"))
	log.Debug("hidden")
	log.Info("scanned", Coord("at", 40.7, -74), Int("items", 3), Err(nil))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	for _, want := range []string{`"comp":"worker"`, `"at":"40.700000,-74.000000"`, `"items":3`, `"caller":"logx_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"err"`) {
		t.Fatalf("nil error should be skipped: %s", out)
	}
}

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()

	var l Logger
	l.With(String("a", "b")).Error("nothing")
	Nop().Warn("nothing")
}

func TestServiceRecentKeepsWarnings(t *testing.T) {
	t.Parallel()

	svc, root := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: t.TempDir() + "/scan.log"}})
	defer svc.Close()

	log := root.With(String("comp", "overseer"))
	log.Info("not kept")
	for i := 0; i < recentSize+3; i++ {
		log.Warn("schedule failed", Int("attempt", i))
	}
	log.Error("gave up", Err(errors.New("no spawn data")))

	got := svc.Recent()
	if len(got) != recentSize {
		t.Fatalf("recent = %d entries, want %d", len(got), recentSize)
	}
	last := got[len(got)-1]
	if last.Level != "error" || last.Comp != "overseer" || last.Err != "no spawn data" {
		t.Fatalf("last entry = %+v", last)
	}
	if got[0].Message != "schedule failed" {
		t.Fatalf("first entry = %+v", got[0])
	}
}

func TestApplyChangesLiveLoggers(t *testing.T) {
	t.Parallel()

	svc, root := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: t.TempDir() + "/a.log"}})
	defer svc.Close()

	root.Warn("dropped")
	if n := len(svc.Recent()); n != 0 {
		t.Fatalf("warn below level was kept: %d", n)
	}
	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: t.TempDir() + "/b.log"}})
	root.Warn("kept")
	if n := len(svc.Recent()); n != 1 {
		t.Fatalf("recent after apply = %d", n)
	}
}
