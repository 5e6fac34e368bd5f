package scan

import (
	"sync"
	"sync/atomic"

	"pogoscan/internal/geo"
)

// PauseFlag is the externally settable pause signal polled by the overseer.
type PauseFlag struct {
	v atomic.Bool
}

func (p *PauseFlag) Set(paused bool) { p.v.Store(paused) }
func (p *PauseFlag) IsSet() bool     { return p.v.Load() }

// LocationFeed collects center updates pushed from outside (config reload,
// control API). Only the most recent update matters to the overseer.
type LocationFeed struct {
	mu      sync.Mutex
	pending []geo.Location
	pushed  atomic.Uint64
}

func (f *LocationFeed) Push(loc geo.Location) {
	f.mu.Lock()
	f.pending = append(f.pending, loc)
	f.mu.Unlock()
	f.pushed.Add(1)
}

// Latest takes every pending update and returns the newest one.
func (f *LocationFeed) Latest() (geo.Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return geo.Location{}, false
	}
	loc := f.pending[len(f.pending)-1]
	f.pending = nil
	return loc, true
}

func (f *LocationFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
