package storage

import (
	"context"
	"errors"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects and configures a driver.
//
// Driver values:
//   - "file": jsonl journals next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": DSN in Path
//
// Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
	MaxConns    int32         // postgres only
}

// Store persists scan results and the notifier's dedup state.
type Store interface {
	SaveSightings(ctx context.Context, s []model.Sighting) error
	SaveForts(ctx context.Context, f []model.Fort) error

	// SpawnPoints returns every known spawn point inside b.
	SpawnPoints(ctx context.Context, b geo.Bounds) ([]model.SpawnPoint, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// Prune removes sightings that disappeared before the cutoff and expired
	// dedup keys. Spawn points are kept.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
