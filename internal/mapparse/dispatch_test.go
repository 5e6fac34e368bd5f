package mapparse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/mapclient"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

type recordSpy struct {
	mu        sync.Mutex
	sightings []model.Sighting
	forts     []model.Fort
}

func (r *recordSpy) PutSightings(s []model.Sighting) {
	r.mu.Lock()
	r.sightings = append(r.sightings, s...)
	r.mu.Unlock()
}

func (r *recordSpy) PutForts(f []model.Fort) {
	r.mu.Lock()
	r.forts = append(r.forts, f...)
	r.mu.Unlock()
}

type alertSpy struct{ got []model.Sighting }

func (a *alertSpy) NotifySightings(_ context.Context, s []model.Sighting) {
	a.got = append(a.got, s...)
}

func sampleResponse(at time.Time) *mapclient.Response {
	return &mapclient.Response{
		FetchedAt: at,
		Cells: []mapclient.Cell{{
			ID: "c1",
			WildPokemons: []mapclient.WildPokemon{
				{EncounterID: "e1", SpawnPointID: "sp1", PokemonID: 16, Latitude: 1, Longitude: 2, TimeTillHidden: 600_000},
				{EncounterID: "e2", SpawnPointID: "sp2", PokemonID: 19, Latitude: 1.001, Longitude: 2.001, TimeTillHidden: 60_000},
			},
			Forts: []mapclient.Fort{
				{ID: "f1", Type: "gym", Team: 2, LastModified: 1000},
				{ID: "f2", Type: "pokestop", LureExpires: 5000, LastModified: 2000},
			},
		}},
	}
}

func TestDispatchCountsOnlyNewItems(t *testing.T) {
	t.Parallel()

	rec := &recordSpy{}
	alerts := &alertSpy{}
	d := New(Options{Records: rec, Alerts: alerts, IncludeForts: true, Log: logx.Nop()})
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	n, err := d.Dispatch(context.Background(), sampleResponse(at), geo.Location{Lat: 1, Lng: 2})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 4 {
		t.Fatalf("first dispatch new = %d, want 4", n)
	}
	if len(alerts.got) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts.got))
	}
	if got := rec.sightings[0].Disappear; !got.Equal(at.Add(10 * time.Minute)) {
		t.Fatalf("disappear = %v", got)
	}
	if rec.forts[1].LureExpiry.IsZero() || rec.forts[1].Kind != model.FortStop {
		t.Fatalf("unexpected fort record: %+v", rec.forts[1])
	}

	n, err = d.Dispatch(context.Background(), sampleResponse(at.Add(time.Second)), geo.Location{})
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat dispatch new = %d, want 0", n)
	}
	if len(alerts.got) != 2 {
		t.Fatalf("repeat sightings were alerted again")
	}

	resp := sampleResponse(at)
	resp.Cells[0].Forts[0].LastModified = 9000
	n, _ = d.Dispatch(context.Background(), resp, geo.Location{})
	if n != 1 {
		t.Fatalf("changed fort new = %d, want 1", n)
	}
}

func TestDispatchSkipsFortsWhenDisabled(t *testing.T) {
	t.Parallel()

	rec := &recordSpy{}
	d := New(Options{Records: rec, Log: logx.Nop()})
	n, err := d.Dispatch(context.Background(), sampleResponse(time.Now()), geo.Location{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 2 || len(rec.forts) != 0 {
		t.Fatalf("n=%d forts=%d", n, len(rec.forts))
	}
}

func TestDispatchMalformed(t *testing.T) {
	t.Parallel()

	d := New(Options{IncludeForts: true, Log: logx.Nop()})
	cases := map[string]*mapclient.Response{
		"nil":        nil,
		"no cells":   {},
		"no enc id":  {Cells: []mapclient.Cell{{WildPokemons: []mapclient.WildPokemon{{PokemonID: 1}}}}},
		"fort kind?": {Cells: []mapclient.Cell{{Forts: []mapclient.Fort{{ID: "x", Type: "portal"}}}}},
	}
	for name, resp := range cases {
		if _, err := d.Dispatch(context.Background(), resp, geo.Location{}); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}

	n, err := d.Dispatch(context.Background(), &mapclient.Response{Cells: []mapclient.Cell{}}, geo.Location{})
	if err != nil || n != 0 {
		t.Fatalf("empty cells: n=%d err=%v", n, err)
	}
}

func TestDispatchPrunesExpiredEncounters(t *testing.T) {
	t.Parallel()

	d := New(Options{MaxTracked: 1, Log: logx.Nop()})
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := d.Dispatch(context.Background(), sampleResponse(at), geo.Location{}); err != nil {
		t.Fatal(err)
	}
	// Both encounters are past their disappear time an hour later.
	later := &mapclient.Response{FetchedAt: at.Add(time.Hour), Cells: []mapclient.Cell{{
		WildPokemons: []mapclient.WildPokemon{{EncounterID: "e3", PokemonID: 1, TimeTillHidden: 1000}},
	}}}
	if _, err := d.Dispatch(context.Background(), later, geo.Location{}); err != nil {
		t.Fatal(err)
	}
	if enc, _ := d.Tracked(); enc != 1 {
		t.Fatalf("tracked encounters = %d, want 1", enc)
	}
}
