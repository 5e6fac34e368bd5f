package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	kit "pogoscan/internal/transport"
	logx "pogoscan/pkg/logx"
)

type fakeSender struct {
	name string

	mu       sync.Mutex
	failures int // fail this many sends first
	got      []kit.Notification
	attempts int
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("temporary")
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeSender) sent() []kit.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.Notification(nil), f.got...)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (m *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = until
	return nil
}

func (m *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.m[key]
	return u, ok, nil
}

func (m *memDedup) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func startService(t *testing.T, cfg Config, store DedupStore, senders ...kit.Sender) *Service {
	t.Helper()
	s := New(cfg, senders, logx.Nop(), eventbus.New(), store)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()

	tg := &fakeSender{name: "telegram"}
	s := startService(t, testConfig(), nil, tg)

	n := kit.Notification{Priority: 9, Text: "Dragonite!"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	eventually(t, "delivery", func() bool { return len(tg.sent()) == 1 })
	time.Sleep(20 * time.Millisecond)

	got := tg.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d, want 1 after dedup", len(got))
	}
	if got[0].Text != "🚨 Dragonite!" || got[0].ID == "" {
		t.Fatalf("notification = %+v", got[0])
	}
	if st := s.Stats(); st.Deduped != 2 || st.Sent != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if h := s.History(); len(h) != 1 || h[0].Channel != "telegram" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyRetriesAndRoutes(t *testing.T) {
	t.Parallel()

	tg := &fakeSender{name: "telegram", failures: 2}
	wh := &fakeSender{name: "webhook"}
	s := startService(t, testConfig(), nil, tg, wh)

	if err := s.Notify(context.Background(), kit.Notification{Channel: "telegram", Text: "only tg"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "retry", func() bool { return len(tg.sent()) == 1 })
	if len(wh.sent()) != 0 {
		t.Fatal("webhook got a telegram-only notification")
	}
	tg.mu.Lock()
	attempts := tg.attempts
	tg.mu.Unlock()
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	if err := s.Notify(context.Background(), kit.Notification{Text: "everyone"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "fan out", func() bool { return len(tg.sent()) == 2 && len(wh.sent()) == 1 })

	err := s.Notify(context.Background(), kit.Notification{Channel: "discord", Text: "x"})
	if !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v, want ErrNoSender", err)
	}
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	tg := &fakeSender{name: "telegram", failures: 10}
	s := startService(t, testConfig(), nil, tg)
	if err := s.Notify(context.Background(), kit.Notification{Text: "doomed"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "failure", func() bool { return s.Stats().Failed == 1 })
	if len(tg.sent()) != 0 {
		t.Fatal("nothing should have been delivered")
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{}, []kit.Sender{&fakeSender{name: "x"}}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "a"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	s = New(testConfig(), []kit.Sender{&fakeSender{name: "x"}}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "a"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start err = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "a"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err = %v, want ErrStopped", err)
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := &memDedup{m: map[string]time.Time{}}
	cfg := testConfig()
	cfg.PersistDedup = true

	tg := &fakeSender{name: "telegram"}
	s := New(cfg, []kit.Sender{tg}, logx.Nop(), nil, store)
	s.Start(context.Background())
	n := kit.Notification{Key: "sighting:e1", Text: "Snorlax"}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	eventually(t, "persisted key", func() bool { return store.len() == 1 })
	s.Stop(context.Background())

	s2 := startService(t, cfg, store, tg)
	if err := s2.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	if st := s2.Stats(); st.Deduped != 1 || st.Queued != 0 {
		t.Fatalf("restart stats = %+v", st)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %s out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s, want 100ms ±30%%", d)
	}
}

func TestSightingAlertsFilter(t *testing.T) {
	t.Parallel()

	tg := &fakeSender{name: "telegram"}
	s := startService(t, testConfig(), nil, tg)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := NewSightingAlerts(s, AlertConfig{Pokemon: []int{143}, MinRemaining: time.Minute, Priority: 5}, logx.Nop())
	a.now = func() time.Time { return now }

	a.NotifySightings(context.Background(), []model.Sighting{
		{EncounterID: "a", PokemonID: 16, Disappear: now.Add(10 * time.Minute)},
		{EncounterID: "b", PokemonID: 143, Disappear: now.Add(30 * time.Second)},
		{EncounterID: "c", PokemonID: 143, Location: geo.Location{Lat: 1, Lng: 2}, Disappear: now.Add(10 * time.Minute)},
	})
	eventually(t, "alert", func() bool { return len(tg.sent()) == 1 })
	got := tg.sent()[0]
	if got.Location == nil || got.Location.Lat != 1 {
		t.Fatalf("alert = %+v", got)
	}
	if msg, ok := got.Data.(sightingMessage); !ok || msg.EncounterID != "c" {
		t.Fatalf("data = %#v", got.Data)
	}
}

func TestForwardCooldowns(t *testing.T) {
	t.Parallel()

	tg := &fakeSender{name: "telegram"}
	bus := eventbus.New()
	s := New(testConfig(), []kit.Sender{tg}, logx.Nop(), bus, nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.ForwardCooldowns(ctx, bus) }()

	// The subscription is registered asynchronously; keep publishing until seen.
	until := time.Now().Add(2 * time.Hour)
	eventually(t, "cooldown alert", func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeCooldown, Data: map[string]any{"user": "ash", "until": until}})
		return len(tg.sent()) == 1
	})
	time.Sleep(20 * time.Millisecond)
	if n := len(tg.sent()); n != 1 {
		t.Fatalf("sent %d, repeated cooldown events must dedup", n)
	}
}
