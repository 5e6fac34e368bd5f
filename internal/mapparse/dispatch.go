// Package mapparse turns map responses into sightings and forts and hands
// them to the persistence and alert sinks.
package mapparse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/mapclient"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// ErrMalformed means the response lacks the expected structure.
var ErrMalformed = errors.New("malformed map response")

// RecordSink accepts records for persistence. It must not block on I/O.
type RecordSink interface {
	PutSightings(s []model.Sighting)
	PutForts(f []model.Fort)
}

// SightingSink receives newly seen pokemon, typically for alerting.
type SightingSink interface {
	NotifySightings(ctx context.Context, s []model.Sighting)
}

type Options struct {
	Records RecordSink
	Alerts  SightingSink
	// IncludeForts turns fort records on.
	IncludeForts bool
	// MaxTracked bounds the number of remembered encounters and forts.
	MaxTracked int
	Log        logx.Logger
}

// Dispatcher is shared by all workers.
type Dispatcher struct {
	opts Options
	log  logx.Logger
	now  func() time.Time

	mu         sync.Mutex
	encounters map[string]time.Time // encounter id -> disappear time
	forts      map[string]int64     // fort id -> last modified ms
}

func New(opts Options) *Dispatcher {
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = 50_000
	}
	return &Dispatcher{
		opts:       opts,
		log:        opts.Log.With(logx.String("comp", "mapparse")),
		now:        time.Now,
		encounters: make(map[string]time.Time),
		forts:      make(map[string]int64),
	}
}

// Dispatch parses resp and forwards the results. The returned count covers
// pokemon not seen before and forts that are new or changed.
func (d *Dispatcher) Dispatch(ctx context.Context, resp *mapclient.Response, at geo.Location) (int, error) {
	if resp == nil || resp.Cells == nil {
		return 0, ErrMalformed
	}
	now := resp.FetchedAt
	if now.IsZero() {
		now = d.now()
	}

	var sightings []model.Sighting
	var forts []model.Fort
	for i, c := range resp.Cells {
		for _, p := range c.WildPokemons {
			if p.EncounterID == "" || p.PokemonID <= 0 {
				return 0, fmt.Errorf("%w: cell %d: pokemon without id", ErrMalformed, i)
			}
			sightings = append(sightings, model.Sighting{
				EncounterID:  p.EncounterID,
				SpawnPointID: p.SpawnPointID,
				PokemonID:    p.PokemonID,
				Location:     geo.Location{Lat: p.Latitude, Lng: p.Longitude},
				Disappear:    now.Add(time.Duration(p.TimeTillHidden) * time.Millisecond),
				SeenAt:       now,
			})
		}
		if !d.opts.IncludeForts {
			continue
		}
		for _, f := range c.Forts {
			kind, ok := fortKind(f.Type)
			if f.ID == "" || !ok {
				return 0, fmt.Errorf("%w: cell %d: bad fort %q", ErrMalformed, i, f.ID)
			}
			fort := model.Fort{
				ID:        f.ID,
				Kind:      kind,
				Location:  geo.Location{Lat: f.Latitude, Lng: f.Longitude},
				Team:      f.Team,
				UpdatedAt: time.UnixMilli(f.LastModified),
			}
			if f.LureExpires > 0 {
				fort.LureExpiry = time.UnixMilli(f.LureExpires)
			}
			forts = append(forts, fort)
		}
	}

	fresh, changed := d.track(now, sightings, forts)

	if d.opts.Records != nil {
		if len(sightings) > 0 {
			d.opts.Records.PutSightings(sightings)
		}
		if len(changed) > 0 {
			d.opts.Records.PutForts(changed)
		}
	}
	if d.opts.Alerts != nil && len(fresh) > 0 {
		d.opts.Alerts.NotifySightings(ctx, fresh)
	}

	n := len(fresh) + len(changed)
	if n > 0 {
		d.log.Debug("map objects parsed",
			logx.Coord("at", at.Lat, at.Lng),
			logx.Int("pokemon", len(fresh)),
			logx.Int("forts", len(changed)))
	}
	return n, nil
}

func (d *Dispatcher) track(now time.Time, sightings []model.Sighting, forts []model.Fort) (fresh []model.Sighting, changed []model.Fort) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range sightings {
		if _, seen := d.encounters[s.EncounterID]; seen {
			continue
		}
		d.encounters[s.EncounterID] = s.Disappear
		fresh = append(fresh, s)
	}
	for _, f := range forts {
		mod := f.UpdatedAt.UnixMilli()
		if prev, ok := d.forts[f.ID]; ok && prev == mod {
			continue
		}
		d.forts[f.ID] = mod
		changed = append(changed, f)
	}

	if len(d.encounters) > d.opts.MaxTracked {
		for id, until := range d.encounters {
			if until.Before(now) {
				delete(d.encounters, id)
			}
		}
	}
	if len(d.forts) > d.opts.MaxTracked {
		// Forts carry no expiry; start over and let the next pass re-report them.
		d.forts = make(map[string]int64)
	}
	return fresh, changed
}

// Tracked reports how many encounters and forts are remembered.
func (d *Dispatcher) Tracked() (encounters, forts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.encounters), len(d.forts)
}

func fortKind(s string) (model.FortKind, bool) {
	switch s {
	case "gym", "GYM":
		return model.FortGym, true
	case "pokestop", "POKESTOP", "checkpoint", "CHECKPOINT":
		return model.FortStop, true
	}
	return "", false
}
