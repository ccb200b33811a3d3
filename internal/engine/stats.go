package engine

import (
	"context"
	"math"
	"time"
)

// WindowStats contains a summary of the log window for the API.
type WindowStats struct {
	IngestionRate  float64        `json:"ingestion_rate"` // lines/sec
	Entries        int            `json:"entries"`        // in memory
	Segments       int            `json:"segments"`
	Archives       int            `json:"archives"`
	LoadedArchives int            `json:"loaded_archives"`
	Pruned         int64          `json:"pruned"` // segments and archives skipped so far
	OldestTime     int64          `json:"oldest_time"`
	NewestTime     int64          `json:"newest_time"`
	ClassDist      map[string]int `json:"class_dist"` // e.g. "state": 100
}

// Stats returns a snapshot of the window. Archives that were not loaded
// yet do not contribute to the class distribution.
func (w *LogWindow) Stats() WindowStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := WindowStats{
		IngestionRate: w.IngestionRate(),
		Segments:      len(w.sealed) + 1,
		Archives:      len(w.archives),
		Pruned:        w.pruned.Load(),
		ClassDist:     make(map[string]int),
	}

	first := true
	observe := func(entries []*LogEntry) {
		if len(entries) == 0 {
			return
		}
		if oldest := entries[0].Time; first || oldest < stats.OldestTime {
			stats.OldestTime = oldest
		}
		if newest := entries[len(entries)-1].Time; first || newest > stats.NewestTime {
			stats.NewestTime = newest
		}
		first = false
		for _, e := range entries {
			stats.ClassDist[e.Class.String()]++
		}
	}

	for _, s := range w.sealed {
		stats.Entries += len(s.entries)
		observe(s.entries)
	}
	stats.Entries += len(w.live.entries)
	observe(w.live.entries)

	for _, a := range w.archives {
		if !a.isLoaded() {
			continue
		}
		stats.LoadedArchives++
		a.mu.Lock()
		observe(a.entries)
		a.mu.Unlock()
	}
	return stats
}

// StartStatsTicker recomputes the ingestion rate every interval until
// ctx is done.
func (w *LogWindow) StartStatsTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count := w.writeCounter.Swap(0)
				rate := float64(count) / interval.Seconds()
				w.currentRate.Store(math.Float64bits(rate))
			}
		}
	}()
}

// IngestionRate returns the current ingestion rate (lines/sec).
func (w *LogWindow) IngestionRate() float64 {
	return math.Float64frombits(w.currentRate.Load())
}
