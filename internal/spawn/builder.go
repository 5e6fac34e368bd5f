package spawn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// ErrNoSpawnData means neither the spawn file nor the store had any points
// for the requested area.
var ErrNoSpawnData = errors.New("no spawn points available")

// Source names reported in Result.
const (
	SourceFile  = "file"
	SourceStore = "store"
)

// Store is the subset of storage.Store the builder reads from.
type Store interface {
	SpawnPoints(ctx context.Context, b geo.Bounds) ([]model.SpawnPoint, error)
}

// Entry is one spawn point with the window in which it should be visited.
type Entry struct {
	Point     model.SpawnPoint
	NotBefore time.Time
	NotAfter  time.Time
}

type Result struct {
	Points []Entry
	Source string
}

// Builder resolves spawn points (file first, then store) and turns them into
// an ordered schedule.
type Builder struct {
	File  string
	Store Store // may be nil

	// StepKm sizes the bounding box used for the store query.
	StepKm float64
	// SpawnDelay is added to each point's due time to get NotBefore.
	SpawnDelay time.Duration
	// Window is how long after its due time a point is still worth
	// visiting. Zero leaves NotAfter unset.
	Window time.Duration

	Log logx.Logger
}

// Build returns the rotated schedule for the hex area around center.
// It fails with ErrNoSpawnData when both sources are empty.
func (b *Builder) Build(ctx context.Context, center geo.Location, rings int, now time.Time) (Result, error) {
	points, source, err := b.resolve(ctx, center, rings)
	if err != nil {
		return Result{}, err
	}
	if len(points) == 0 {
		return Result{}, ErrNoSpawnData
	}

	ordered := Order(points, now)
	target := Target(now)
	base := now.Add(-LeadSeconds * time.Second)

	out := make([]Entry, len(ordered))
	for i, p := range ordered {
		offset := ((p.Second-target)%hour + hour) % hour
		due := base.Add(time.Duration(offset) * time.Second)
		e := Entry{Point: p, NotBefore: due.Add(b.SpawnDelay)}
		if b.Window > 0 {
			e.NotAfter = due.Add(b.Window)
		}
		out[i] = e
	}
	b.Log.Info("spawn schedule built",
		logx.Int("points", len(out)),
		logx.String("source", source),
		logx.Int("target_second", target),
	)
	return Result{Points: out, Source: source}, nil
}

func (b *Builder) resolve(ctx context.Context, center geo.Location, rings int) ([]model.SpawnPoint, string, error) {
	if path := strings.TrimSpace(b.File); path != "" {
		points, err := LoadFile(path)
		switch {
		case err != nil:
			// An unreadable file falls through to the store.
			b.Log.Error("spawn file unusable", logx.String("path", path), logx.Err(err))
		case len(points) > 0:
			b.Log.Debug("spawn points loaded from file", logx.String("path", path), logx.Int("count", len(points)))
			return points, SourceFile, nil
		}
	}

	if b.Store == nil {
		return nil, "", nil
	}
	step := b.StepKm
	if step <= 0 {
		step = geo.StepPokemonKm
	}
	points, err := b.Store.SpawnPoints(ctx, geo.HexBounds(center, rings, step))
	if err != nil {
		return nil, "", fmt.Errorf("load spawn points from store: %w", err)
	}
	b.Log.Debug("spawn points loaded from store", logx.Int("count", len(points)))
	return points, SourceStore, nil
}
