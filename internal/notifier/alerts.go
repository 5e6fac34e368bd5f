package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/model"
	kit "pogoscan/internal/transport"
	logx "pogoscan/pkg/logx"
)

type AlertConfig struct {
	// Pokemon lists the ids worth announcing; empty announces nothing.
	Pokemon []int
	// MinRemaining drops sightings that disappear sooner than this.
	MinRemaining time.Duration
	Priority     int
	// Channel restricts alerts to one sender; empty means all.
	Channel string
}

// SightingAlerts turns newly seen pokemon into notifications.
type SightingAlerts struct {
	svc *Service
	log logx.Logger
	now func() time.Time

	mu    sync.RWMutex
	cfg   AlertConfig
	watch map[int]struct{}
}

func NewSightingAlerts(svc *Service, cfg AlertConfig, log logx.Logger) *SightingAlerts {
	a := &SightingAlerts{svc: svc, log: log.With(logx.String("comp", "alerts")), now: time.Now}
	a.Apply(cfg)
	return a
}

// Apply swaps the filter; safe while sightings are flowing.
func (a *SightingAlerts) Apply(cfg AlertConfig) {
	w := make(map[int]struct{}, len(cfg.Pokemon))
	for _, id := range cfg.Pokemon {
		w[id] = struct{}{}
	}
	a.mu.Lock()
	a.cfg, a.watch = cfg, w
	a.mu.Unlock()
}

// sightingMessage is the webhook body for a pokemon alert.
type sightingMessage struct {
	EncounterID  string    `json:"encounter_id"`
	SpawnPointID string    `json:"spawnpoint_id"`
	PokemonID    int       `json:"pokemon_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Disappear    time.Time `json:"disappear_time"`
}

func (sightingMessage) WebhookType() string { return "pokemon" }

func (a *SightingAlerts) NotifySightings(ctx context.Context, ss []model.Sighting) {
	if a == nil || a.svc == nil {
		return
	}
	a.mu.RLock()
	cfg, watch := a.cfg, a.watch
	a.mu.RUnlock()
	if len(watch) == 0 {
		return
	}
	now := a.now()
	for _, s := range ss {
		if _, ok := watch[s.PokemonID]; !ok {
			continue
		}
		if s.Disappear.Sub(now) < cfg.MinRemaining {
			continue
		}
		loc := s.Location
		n := kit.Notification{
			Channel:  cfg.Channel,
			Priority: cfg.Priority,
			Key:      "sighting:" + s.EncounterID,
			Text: fmt.Sprintf("Pokemon #%d at %.5f,%.5f, disappears %s (%s)",
				s.PokemonID, loc.Lat, loc.Lng, humanize.RelTime(s.Disappear, now, "ago", "from now"),
				s.Disappear.Local().Format("15:04:05")),
			Location: &loc,
			Data: sightingMessage{
				EncounterID:  s.EncounterID,
				SpawnPointID: s.SpawnPointID,
				PokemonID:    s.PokemonID,
				Latitude:     loc.Lat,
				Longitude:    loc.Lng,
				Disappear:    s.Disappear,
			},
		}
		if err := a.svc.Notify(ctx, n); err != nil && !errors.Is(err, ErrDisabled) {
			a.log.Warn("sighting alert not queued", logx.Err(err), logx.Int("pokemon_id", s.PokemonID))
		}
	}
}

// ForwardCooldowns notifies operators whenever a worker enters cooldown.
// It returns when ctx ends.
func (s *Service) ForwardCooldowns(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeCooldown {
				continue
			}
			data, _ := ev.Data.(map[string]any)
			user, _ := data["user"].(string)
			until, _ := data["until"].(time.Time)
			err := s.Notify(ctx, kit.Notification{
				Priority: 7,
				Key:      fmt.Sprintf("cooldown:%s:%d", user, until.Unix()),
				Text:     fmt.Sprintf("Account %s hit the failure limit; cooling down until %s", user, until.Local().Format("15:04")),
				Data:     ev,
			})
			if err != nil && !errors.Is(err, ErrDisabled) {
				s.log.Warn("cooldown alert not queued", logx.Err(err))
			}
		}
	}
}
