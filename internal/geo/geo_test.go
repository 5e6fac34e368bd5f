package geo

import (
	"math"
	"math/rand"
	"testing"
)

var center = Location{Lat: 40.7580, Lng: -73.9855, Alt: 12}

func TestHexCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rings int
		want  int
	}{
		{rings: 0, want: 1},
		{rings: 1, want: 1},
		{rings: 2, want: 7},
		{rings: 3, want: 19},
		{rings: 5, want: 61},
	}
	for _, tt := range tests {
		if got := HexCount(tt.rings); got != tt.want {
			t.Fatalf("HexCount(%d) = %d, want %d", tt.rings, got, tt.want)
		}
		if got := len(HexGrid(center, tt.rings, StepPokemonKm)); got != tt.want {
			t.Fatalf("len(HexGrid(%d)) = %d, want %d", tt.rings, got, tt.want)
		}
	}
}

func TestHexGridDeterministic(t *testing.T) {
	t.Parallel()
	a := HexGrid(center, 4, StepPokemonKm)
	b := HexGrid(center, 4, StepPokemonKm)
	if len(a) != len(b) {
		t.Fatalf("length differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("point %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}

	w := NewHexWalker(center, 4, StepPokemonKm)
	for i := 0; i < 5; i++ {
		w.Next()
	}
	w.Reset()
	for i := range a {
		got, ok := w.Next()
		if !ok || got != a[i] {
			t.Fatalf("after Reset point %d = %+v (%v), want %+v", i, got, ok, a[i])
		}
	}
	if _, ok := w.Next(); ok {
		t.Fatal("walker yielded past the last ring")
	}
}

func TestHexGridShape(t *testing.T) {
	t.Parallel()
	pts := HexGrid(center, 3, StepPokemonKm)

	if pts[0].Lat != center.Lat || pts[0].Lng != center.Lng || pts[0].Alt != 0 {
		t.Fatalf("first point = %+v, want center with alt 0", pts[0])
	}

	// Ring r points sit r hex steps from the center: between the inner radius
	// (r*ydist) and the corner radius (r*xdist) of the ring.
	xdist := math.Sqrt(3) * StepPokemonKm * 1000
	ring := func(i int) int {
		if i == 0 {
			return 0
		}
		if i <= 6 {
			return 1
		}
		return 2
	}
	for i, p := range pts {
		if p.Alt != 0 {
			t.Fatalf("point %d alt = %v, want 0", i, p.Alt)
		}
		r := ring(i)
		d := DistanceMeters(center, p)
		if r == 0 {
			continue
		}
		lo := float64(r)*xdist*math.Sqrt(3)/2 - 1
		hi := float64(r)*xdist + 1
		if d < lo || d > hi {
			t.Fatalf("point %d (ring %d) at %.1fm, want within [%.1f, %.1f]", i, r, d, lo, hi)
		}
	}

	// Ring 1 starts at the top-left corner moving right: its first point is
	// north of the center and east of the ring's top-left corner.
	if pts[1].Lat <= center.Lat {
		t.Fatalf("ring 1 start %+v is not north of center", pts[1])
	}
	if pts[1].Lng <= center.Lng {
		t.Fatalf("ring 1 first step %+v did not move right", pts[1])
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	t.Parallel()
	for _, brng := range []float64{North, East, South, West, 37, 211} {
		p := Destination(center, brng, 1.5)
		d := DistanceMeters(center, p)
		if math.Abs(d-1500) > 1 {
			t.Fatalf("bearing %v: distance %.3fm, want ~1500m", brng, d)
		}
	}
}

func TestJitterStaysInsideRadius(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		j := Jitter(center, 10, rng)
		if j.Alt != center.Alt {
			t.Fatalf("alt changed: %v", j.Alt)
		}
		if d := DistanceMeters(center, j); d > 10.01 {
			t.Fatalf("jitter moved %.3fm, max 10m", d)
		}
	}
	if got := Jitter(center, 0, rng); got != center {
		t.Fatalf("zero radius changed location: %+v", got)
	}
}

func TestHexBoundsContainsGrid(t *testing.T) {
	t.Parallel()
	b := HexBounds(center, 4, StepPokemonKm)
	for i, p := range HexGrid(center, 4, StepPokemonKm) {
		if !b.Contains(p) {
			t.Fatalf("point %d %+v outside bounds %+v", i, p, b)
		}
	}
}
