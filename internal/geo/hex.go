package geo

import "math"

// Step distances (km) for hex scanning. A pokemon scan sees ~70m around the
// player; forts are visible from much further away.
const (
	StepPokemonKm = 0.070
	StepFortsKm   = 0.900
)

// HexWalker yields the hex-ring grid lazily. It is restartable via Reset.
//
// Order: center, then ring 1 clockwise from its top-left corner moving right,
// then ring 2, and so on up to ring rings-1.
type HexWalker struct {
	center Location
	rings  int
	xdist  float64
	ydist  float64

	started bool
	ring    int
	dir     int
	leg     int
	cur     Location
}

func NewHexWalker(center Location, rings int, stepKm float64) *HexWalker {
	w := &HexWalker{
		center: center,
		rings:  rings,
		xdist:  math.Sqrt(3) * stepKm,
		ydist:  1.5 * stepKm,
	}
	w.Reset()
	return w
}

// Reset rewinds the walker to the center point.
func (w *HexWalker) Reset() {
	w.started = false
	w.ring = 0
	w.dir = 0
	w.leg = 0
	w.cur = Location{Lat: w.center.Lat, Lng: w.center.Lng}
}

// Next returns the next grid point, or false once the grid is exhausted.
func (w *HexWalker) Next() (Location, bool) {
	if !w.started {
		w.started = true
		return Location{Lat: w.center.Lat, Lng: w.center.Lng}, true
	}
	if w.ring == 0 || (w.dir == 5 && w.leg == w.ring) {
		// Move on to the next ring.
		if w.ring+1 >= w.rings {
			return Location{}, false
		}
		w.ring++
		w.dir = 0
		w.leg = 0
		// The walk around the previous ring ends where it began; step out to the
		// new top-left corner from there.
		w.cur = Destination(w.cur, North, w.ydist)
		w.cur = Destination(w.cur, West, w.xdist/2)
	} else if w.leg == w.ring {
		w.dir++
		w.leg = 0
	}

	w.cur = w.step(w.cur, w.dir)
	w.leg++
	return w.cur, true
}

func (w *HexWalker) step(loc Location, dir int) Location {
	switch dir {
	case 0: // right
		return Destination(loc, East, w.xdist)
	case 1: // down + right
		return Destination(Destination(loc, South, w.ydist), East, w.xdist/2)
	case 2: // down + left
		return Destination(Destination(loc, South, w.ydist), West, w.xdist/2)
	case 3: // left
		return Destination(loc, West, w.xdist)
	case 4: // up + left
		return Destination(Destination(loc, North, w.ydist), West, w.xdist/2)
	default: // up + right
		return Destination(Destination(loc, North, w.ydist), East, w.xdist/2)
	}
}

// HexGrid materializes the full grid.
func HexGrid(center Location, rings int, stepKm float64) []Location {
	out := make([]Location, 0, HexCount(rings))
	w := NewHexWalker(center, rings, stepKm)
	for {
		loc, ok := w.Next()
		if !ok {
			return out
		}
		out = append(out, loc)
	}
}

// HexCount is the number of points HexGrid yields: 1 + 3N(N-1).
func HexCount(rings int) int {
	if rings <= 1 {
		return 1
	}
	return 1 + 3*rings*(rings-1)
}

// HexBounds is a box around the grid, padded by one column width so spawn
// points just outside the outer ring still count.
func HexBounds(center Location, rings int, stepKm float64) Bounds {
	if rings < 1 {
		rings = 1
	}
	span := float64(rings) * math.Sqrt(3) * stepKm
	n := Destination(center, North, span)
	s := Destination(center, South, span)
	e := Destination(center, East, span)
	wst := Destination(center, West, span)
	return Bounds{North: n.Lat, South: s.Lat, East: e.Lng, West: wst.Lng}
}
