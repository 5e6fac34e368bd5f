// Package storage persists what the scanner finds.
//
// Sightings and forts come from the response dispatcher; spawn points are
// derived from sightings and read back by the spawn schedule builder when no
// spawn point file is configured. The notifier keeps its dedup keys here so
// restarts do not resend alerts.
package storage
