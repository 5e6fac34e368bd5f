package mapclient

import "time"

// Response is the decoded map envelope. A nil Cells slice means the
// service answered without the cells key at all.
type Response struct {
	Cells     []Cell    `json:"cells"`
	FetchedAt time.Time `json:"-"`
}

type Cell struct {
	ID           string        `json:"id"`
	WildPokemons []WildPokemon `json:"wild_pokemons"`
	Forts        []Fort        `json:"forts"`
}

type WildPokemon struct {
	EncounterID    string  `json:"encounter_id"`
	SpawnPointID   string  `json:"spawn_point_id"`
	PokemonID      int     `json:"pokemon_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	TimeTillHidden int64   `json:"time_till_hidden_ms"`
}

type Fort struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"` // "gym" or "pokestop"
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Team         int     `json:"owned_by_team,omitempty"`
	LureExpires  int64   `json:"lure_expires_ms,omitempty"`
	LastModified int64   `json:"last_modified_ms"`
}
