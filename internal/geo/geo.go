// Package geo holds the coordinate math used to decide where to scan:
// great-circle destination points, the expanding hex-ring grid and location jitter.
package geo

import (
	"math"
	"math/rand"
)

// EarthRadiusKm is the radius used by the forward (destination) formula.
const EarthRadiusKm = 6378.1

// Bearings in degrees.
const (
	North = 0.0
	East  = 90.0
	South = 180.0
	West  = 270.0
)

// Location is an immutable point: degrees for Lat/Lng, meters for Alt.
type Location struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
	Alt float64 `json:"alt"`
}

// Bounds is a lat/lng bounding box.
type Bounds struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
}

// Contains reports whether l lies inside b (edges inclusive).
func (b Bounds) Contains(l Location) bool {
	return l.Lat <= b.North && l.Lat >= b.South && l.Lng <= b.East && l.Lng >= b.West
}

// Destination returns the point reached by travelling distanceKm from origin
// along the given initial bearing. The result has altitude 0.
func Destination(origin Location, bearingDeg, distanceKm float64) Location {
	brng := bearingDeg * math.Pi / 180
	lat1 := origin.Lat * math.Pi / 180
	lng1 := origin.Lng * math.Pi / 180
	ang := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brng))
	lng2 := lng1 + math.Atan2(math.Sin(brng)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	return Location{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}

// DistanceMeters is the haversine distance between a and b.
func DistanceMeters(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * 1000 * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Jitter displaces loc by a random bearing and a distance of sqrt(U)*maxMeters,
// which spreads results uniformly over the disc. Altitude is kept.
func Jitter(loc Location, maxMeters float64, rng *rand.Rand) Location {
	if maxMeters <= 0 {
		return loc
	}
	var b, u float64
	if rng != nil {
		b = rng.Float64() * 360
		u = rng.Float64()
	} else {
		b = rand.Float64() * 360
		u = rand.Float64()
	}
	d := math.Sqrt(u) * maxMeters / 1000
	out := Destination(loc, b, d)
	out.Alt = loc.Alt
	return out
}
