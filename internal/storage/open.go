package storage

import (
	"errors"
	"strconv"
	"strings"

	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// spawnKey identifies a spawn point when the sighting carries no id.
func spawnKey(s model.Sighting) string {
	if s.SpawnPointID != "" {
		return s.SpawnPointID
	}
	return strconv.FormatFloat(s.Location.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(s.Location.Lng, 'f', 6, 64)
}
