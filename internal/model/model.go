// Package model holds the records shared by the scanner, the response
// dispatcher and the storage drivers.
package model

import (
	"time"

	"pogoscan/internal/geo"
)

// Account is a login identity. One worker owns one account for the
// lifetime of the process.
type Account struct {
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	AuthService string `json:"auth_service" validate:"omitempty,oneof=ptc google"`
	Proxy       string `json:"proxy,omitempty" validate:"omitempty,url"`
}

// SpawnPoint is a location where entities appear at a fixed second of every hour.
type SpawnPoint struct {
	ID       string       `json:"spawnpoint_id,omitempty"`
	Location geo.Location `json:"location"`
	Second   int          `json:"time"` // [0, 3600)
}

// Sighting is one pokemon seen at a spawn point.
type Sighting struct {
	EncounterID  string       `json:"encounter_id"`
	SpawnPointID string       `json:"spawnpoint_id"`
	PokemonID    int          `json:"pokemon_id"`
	Location     geo.Location `json:"location"`
	Disappear    time.Time    `json:"disappear_time"`
	SeenAt       time.Time    `json:"seen_at"`
}

// FortKind distinguishes gyms from pokestops.
type FortKind string

const (
	FortGym  FortKind = "gym"
	FortStop FortKind = "pokestop"
)

type Fort struct {
	ID         string       `json:"fort_id"`
	Kind       FortKind     `json:"kind"`
	Location   geo.Location `json:"location"`
	Team       int          `json:"team,omitempty"`
	LureExpiry time.Time    `json:"lure_expiry,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// SpawnLifetime is how long a sighting stays visible after it spawns.
const SpawnLifetime = 15 * time.Minute

// SpawnSecond derives the second-of-hour a sighting spawned at.
func (s Sighting) SpawnSecond() int {
	t := s.Disappear.Add(-SpawnLifetime).UTC()
	return t.Minute()*60 + t.Second()
}
