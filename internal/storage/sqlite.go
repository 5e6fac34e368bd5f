package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sightings (
	encounter_id  TEXT PRIMARY KEY,
	spawnpoint_id TEXT NOT NULL,
	pokemon_id    INTEGER NOT NULL,
	lat           REAL NOT NULL,
	lng           REAL NOT NULL,
	disappear     INTEGER NOT NULL,
	seen_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sightings_disappear ON sightings(disappear);

CREATE TABLE IF NOT EXISTS spawnpoints (
	id     TEXT PRIMARY KEY,
	lat    REAL NOT NULL,
	lng    REAL NOT NULL,
	second INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS spawnpoints_latlng ON spawnpoints(lat, lng);

CREATE TABLE IF NOT EXISTS forts (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	lat         REAL NOT NULL,
	lng         REAL NOT NULL,
	team        INTEGER NOT NULL DEFAULT 0,
	lure_expiry INTEGER,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup (
	key   TEXT PRIMARY KEY,
	until INTEGER NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; workers funnel through the dispatcher anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSightings(ctx context.Context, in []model.Sighting) error {
	if len(in) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sg := range in {
		key := spawnKey(sg)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sightings(encounter_id, spawnpoint_id, pokemon_id, lat, lng, disappear, seen_at)
			 VALUES(?,?,?,?,?,?,?) ON CONFLICT(encounter_id) DO NOTHING`,
			sg.EncounterID, key, sg.PokemonID, sg.Location.Lat, sg.Location.Lng,
			sg.Disappear.UnixMilli(), sg.SeenAt.UnixMilli(),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spawnpoints(id, lat, lng, second) VALUES(?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET second=excluded.second`,
			key, sg.Location.Lat, sg.Location.Lng, sg.SpawnSecond(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveForts(ctx context.Context, in []model.Fort) error {
	if len(in) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range in {
		var lure any
		if !f.LureExpiry.IsZero() {
			lure = f.LureExpiry.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO forts(id, kind, lat, lng, team, lure_expiry, updated_at) VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, team=excluded.team,
			   lure_expiry=excluded.lure_expiry, updated_at=excluded.updated_at`,
			f.ID, string(f.Kind), f.Location.Lat, f.Location.Lng, f.Team, lure, f.UpdatedAt.UnixMilli(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SpawnPoints(ctx context.Context, b geo.Bounds) ([]model.SpawnPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lat, lng, second FROM spawnpoints
		 WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		b.South, b.North, b.West, b.East,
	)
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

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sightings WHERE disappear < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		return n, err
	}
	return n, nil
}
