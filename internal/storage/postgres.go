package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sightings (
	encounter_id  TEXT PRIMARY KEY,
	spawnpoint_id TEXT NOT NULL,
	pokemon_id    INTEGER NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	disappear     TIMESTAMPTZ NOT NULL,
	seen_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sightings_disappear ON sightings(disappear);

CREATE TABLE IF NOT EXISTS spawnpoints (
	id        TEXT PRIMARY KEY,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	second    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS spawnpoints_latlng ON spawnpoints(latitude, longitude);

CREATE TABLE IF NOT EXISTS forts (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	team        INTEGER NOT NULL DEFAULT 0,
	lure_expiry TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup (
	key   TEXT PRIMARY KEY,
	until TIMESTAMPTZ NOT NULL
);
`

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required (storage.path)")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) SaveSightings(ctx context.Context, in []model.Sighting) error {
	if len(in) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, sg := range in {
		key := spawnKey(sg)
		b.Queue(`INSERT INTO sightings(encounter_id, spawnpoint_id, pokemon_id, latitude, longitude, disappear, seen_at)
			VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (encounter_id) DO NOTHING`,
			sg.EncounterID, key, sg.PokemonID, sg.Location.Lat, sg.Location.Lng, sg.Disappear, sg.SeenAt)
		b.Queue(`INSERT INTO spawnpoints(id, latitude, longitude, second) VALUES($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE SET second = EXCLUDED.second`,
			key, sg.Location.Lat, sg.Location.Lng, sg.SpawnSecond())
	}
	return s.sendBatch(ctx, b)
}

func (s *pgStore) SaveForts(ctx context.Context, in []model.Fort) error {
	if len(in) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, f := range in {
		var lure *time.Time
		if !f.LureExpiry.IsZero() {
			t := f.LureExpiry
			lure = &t
		}
		b.Queue(`INSERT INTO forts(id, kind, latitude, longitude, team, lure_expiry, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, team = EXCLUDED.team,
			  lure_expiry = EXCLUDED.lure_expiry, updated_at = EXCLUDED.updated_at`,
			f.ID, string(f.Kind), f.Location.Lat, f.Location.Lng, f.Team, lure, f.UpdatedAt)
	}
	return s.sendBatch(ctx, b)
}

func (s *pgStore) sendBatch(ctx context.Context, b *pgx.Batch) error {
	t0 := time.Now()
	br := s.pool.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	s.log.Trace("batch flushed", logx.Int("statements", b.Len()), logx.Duration("took", time.Since(t0)))
	return nil
}

func (s *pgStore) SpawnPoints(ctx context.Context, bb geo.Bounds) ([]model.SpawnPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, latitude, longitude, second FROM spawnpoints
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`,
		bb.South, bb.North, bb.West, bb.East)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SpawnPoint
	for rows.Next() {
		var sp model.SpawnPoint
		if err := rows.Scan(&sp.ID, &sp.Location.Lat, &sp.Location.Lng, &sp.Second); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *pgStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2) ON CONFLICT (key) DO UPDATE SET until = EXCLUDED.until`,
		key, until)
	return err
}

func (s *pgStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

func (s *pgStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sightings WHERE disappear < $1`, before)
	if err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM dedup WHERE until < now()`); err != nil {
		return tag.RowsAffected(), err
	}
	return tag.RowsAffected(), nil
}
