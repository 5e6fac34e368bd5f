package scan

// Fleet groups the scan components for status readers.
type Fleet struct {
	Queue    *Queue
	Overseer *Overseer
	Workers  []*Worker
	Pause    *PauseFlag
	Feed     *LocationFeed
}

// Totals sums the worker counters.
type Totals struct {
	Success    uint64 `json:"success"`
	NoItems    uint64 `json:"no_items"`
	Skipped    uint64 `json:"skipped"`
	Discarded  uint64 `json:"discarded"`
	Failed     uint64 `json:"failed"`
	Reconnects uint64 `json:"reconnects"`
	CoolingOff int    `json:"cooling_off"`
}

type Report struct {
	Paused   bool             `json:"paused"`
	Overseer OverseerSnapshot `json:"overseer"`
	Queue    QueueStats       `json:"queue"`
	Workers  []WorkerSnapshot `json:"workers"`
	Totals   Totals           `json:"totals"`
}

func (f *Fleet) Report() Report {
	r := Report{Workers: make([]WorkerSnapshot, 0, len(f.Workers))}
	if f.Pause != nil {
		r.Paused = f.Pause.IsSet()
	}
	if f.Overseer != nil {
		r.Overseer = f.Overseer.Snapshot()
	}
	if f.Queue != nil {
		r.Queue = f.Queue.Stats()
	}
	for _, w := range f.Workers {
		s := w.Snapshot()
		r.Workers = append(r.Workers, s)
		r.Totals.Success += s.Success
		r.Totals.NoItems += s.NoItems
		r.Totals.Skipped += s.Skipped
		r.Totals.Discarded += s.Discarded
		r.Totals.Failed += s.FailedTotal
		r.Totals.Reconnects += s.Reconnects
		if !s.CooldownUntil.IsZero() {
			r.Totals.CoolingOff++
		}
	}
	return r
}
