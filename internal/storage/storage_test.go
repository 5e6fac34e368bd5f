package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

func sighting(id, spawn string, lat, lng float64, disappear time.Time) model.Sighting {
	return model.Sighting{
		EncounterID:  id,
		SpawnPointID: spawn,
		PokemonID:    16,
		Location:     geo.Location{Lat: lat, Lng: lng},
		Disappear:    disappear,
		SeenAt:       disappear.Add(-10 * time.Minute),
	}
}

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "scan")},
		{Driver: "sqlite", Path: filepath.Join(dir, "scan.db"), BusyTimeout: time.Second},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSpawnPointsDerivedFromSightings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// Disappears at 00:20:00 -> spawned at 00:05:00 -> second 300.
	disappear := time.Date(2024, 5, 1, 12, 20, 0, 0, time.UTC)

	for name, st := range openTestStores(t) {
		err := st.SaveSightings(ctx, []model.Sighting{
			sighting("e1", "sp1", 10.0, 20.0, disappear),
			sighting("e1", "sp1", 10.0, 20.0, disappear), // duplicate encounter
			sighting("e2", "sp2", 50.0, 50.0, disappear),
		})
		if err != nil {
			t.Fatalf("%s: SaveSightings: %v", name, err)
		}

		got, err := st.SpawnPoints(ctx, geo.Bounds{North: 11, South: 9, East: 21, West: 19})
		if err != nil {
			t.Fatalf("%s: SpawnPoints: %v", name, err)
		}
		if len(got) != 1 {
			t.Fatalf("%s: got %d spawn points, want 1: %+v", name, len(got), got)
		}
		if got[0].ID != "sp1" || got[0].Second != 300 {
			t.Fatalf("%s: spawn point = %+v, want sp1 at second 300", name, got[0])
		}
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	for name, st := range openTestStores(t) {
		if _, ok, err := st.GetDedup(ctx, "k"); err != nil || ok {
			t.Fatalf("%s: GetDedup before put = %v, %v", name, ok, err)
		}
		if err := st.PutDedup(ctx, "k", until); err != nil {
			t.Fatalf("%s: PutDedup: %v", name, err)
		}
		got, ok, err := st.GetDedup(ctx, "k")
		if err != nil || !ok || !got.Equal(until) {
			t.Fatalf("%s: GetDedup = %v, %v, %v; want %v", name, got, ok, err, until)
		}
	}
}

func TestPruneRemovesOldSightings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().UTC()

	for name, st := range openTestStores(t) {
		if err := st.SaveSightings(ctx, []model.Sighting{
			sighting("old", "sp1", 1, 1, now.Add(-48*time.Hour)),
			sighting("new", "sp2", 1, 1, now.Add(time.Minute)),
		}); err != nil {
			t.Fatalf("%s: SaveSightings: %v", name, err)
		}
		n, err := st.Prune(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("%s: Prune: %v", name, err)
		}
		if n != 1 {
			t.Fatalf("%s: Prune removed %d, want 1", name, n)
		}
		// Spawn points survive pruning.
		sps, err := st.SpawnPoints(ctx, geo.Bounds{North: 2, South: 0, East: 2, West: 0})
		if err != nil || len(sps) != 2 {
			t.Fatalf("%s: SpawnPoints after prune = %d, %v; want 2", name, len(sps), err)
		}
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scan")
	disappear := time.Date(2024, 5, 1, 12, 20, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSightings(ctx, []model.Sighting{sighting("e1", "sp1", 1, 1, disappear)}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveForts(ctx, []model.Fort{{ID: "f1", Kind: model.FortGym, UpdatedAt: disappear}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	sps, err := st2.SpawnPoints(ctx, geo.Bounds{North: 2, South: 0, East: 2, West: 0})
	if err != nil || len(sps) != 1 {
		t.Fatalf("SpawnPoints after reopen = %v, %v", sps, err)
	}
	fs := st2.(*fileStore)
	if _, ok := fs.forts["f1"]; !ok {
		t.Fatal("fort f1 not replayed")
	}
}
