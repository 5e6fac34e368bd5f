// Package spawn orders known spawn points into a just-in-time visitation
// schedule relative to the current second of the hour.
package spawn

import (
	"sort"
	"time"

	"pogoscan/internal/model"
)

const hour = 3600

// LeadSeconds biases the rotation one minute back so spawns that appeared a
// moment ago are still visited first.
const LeadSeconds = 60

// SecondOfHour is the UTC minute*60+second of t.
func SecondOfHour(t time.Time) int {
	u := t.UTC()
	return u.Minute()*60 + u.Second()
}

// TimeDiff is a-b on the hourly circle, in (-1800, 1800].
func TimeDiff(a, b int) int {
	d := a - b
	if d <= -hour/2 {
		d += hour
	}
	if d > hour/2 {
		d -= hour
	}
	return d
}

// Target is the second-of-hour the rotation starts from.
func Target(now time.Time) int {
	return (SecondOfHour(now) + hour - LeadSeconds) % hour
}

// SearchFirst returns the smallest i with points[i].Second >= target, or
// len(points) when there is none. points must be sorted by Second.
func SearchFirst(points []model.SpawnPoint, target int) int {
	return sort.Search(len(points), func(i int) bool { return points[i].Second >= target })
}

// Rotate returns points[pos:] followed by points[:pos] in a new slice.
func Rotate(points []model.SpawnPoint, pos int) []model.SpawnPoint {
	if pos < 0 || pos > len(points) {
		pos = 0
	}
	out := make([]model.SpawnPoint, 0, len(points))
	out = append(out, points[pos:]...)
	return append(out, points[:pos]...)
}

// Order sorts points by second (stable, so equal seconds keep source order)
// and rotates them so the first element is the next one due at now.
func Order(points []model.SpawnPoint, now time.Time) []model.SpawnPoint {
	sorted := append([]model.SpawnPoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Second < sorted[j].Second })
	return Rotate(sorted, SearchFirst(sorted, Target(now)))
}
