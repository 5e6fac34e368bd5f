package spawn

import (
	"encoding/json"
	"fmt"
	"os"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
)

// fileEntry accepts both the short (lat/lng) and long (latitude/longitude)
// spellings produced by common spawn point dump tools.
type fileEntry struct {
	Lat          *float64        `json:"lat"`
	Latitude     *float64        `json:"latitude"`
	Lng          *float64        `json:"lng"`
	Longitude    *float64        `json:"longitude"`
	Time         *int            `json:"time"`
	SpawnPointID json.RawMessage `json:"spawnpoint_id"`
}

// LoadFile reads a JSON array of spawn points.
func LoadFile(path string) ([]model.SpawnPoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []fileEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("spawn file %s: %w", path, err)
	}

	out := make([]model.SpawnPoint, 0, len(raw))
	for i, e := range raw {
		lat := first(e.Lat, e.Latitude)
		lng := first(e.Lng, e.Longitude)
		if lat == nil || lng == nil || e.Time == nil {
			return nil, fmt.Errorf("spawn file %s: entry %d: lat, lng and time are required", path, i)
		}
		sec := *e.Time % hour
		if sec < 0 {
			sec += hour
		}
		out = append(out, model.SpawnPoint{
			ID:       spawnID(e.SpawnPointID),
			Location: geo.Location{Lat: *lat, Lng: *lng},
			Second:   sec,
		})
	}
	return out, nil
}

func first(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// spawnID accepts ids written either as strings or numbers.
func spawnID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
