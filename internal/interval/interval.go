// Package interval reconstructs activity intervals from adjacent samples of a
// telemetry series.
package interval

import (
	"time"

	"github.com/ethpandaops/poolspy/internal/series"
)

// DefaultStalenessThreshold is the longest gap between two samples across
// which a counter change is still credited as mining activity.
const DefaultStalenessThreshold = 5 * time.Minute

// Interval spans two time-adjacent samples of a series.
type Interval struct {
	// Start and End are the sample timestamps in milliseconds.
	Start int64
	End   int64
	// DurationMs is End - Start.
	DurationMs int64
	// ActivityDelta is the speed_accepted difference across the interval,
	// forced to zero when the gap exceeds the staleness threshold.
	ActivityDelta float64
	// SpeedAccepted and Profitability are the counter values of the
	// interval's start sample.
	SpeedAccepted float64
	Profitability float64
}

// Active reports whether the entity was mining during the interval.
func (i Interval) Active() bool {
	return i.ActivityDelta != 0
}

// StartTime returns the interval start as a UTC time.
func (i Interval) StartTime() time.Time {
	return time.UnixMilli(i.Start).UTC()
}

// Reconstruct walks consecutive sample pairs and returns one interval per
// pair. A series of length <= 1 yields no intervals. The trailing sample has
// no successor and is not turned into an interval of its own.
func Reconstruct(s series.Series, threshold time.Duration) []Interval {
	if s.Len() < 2 {
		return nil
	}

	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}

	thresholdMs := threshold.Milliseconds()
	out := make([]Interval, 0, s.Len()-1)

	for i := 0; i < s.Len()-1; i++ {
		prev, next := s.At(i), s.At(i+1)

		iv := Interval{
			Start:         prev.Timestamp,
			End:           next.Timestamp,
			DurationMs:    next.Timestamp - prev.Timestamp,
			ActivityDelta: next.SpeedAccepted - prev.SpeedAccepted,
			SpeedAccepted: prev.SpeedAccepted,
			Profitability: prev.Profitability,
		}

		if iv.DurationMs > thresholdMs {
			iv.ActivityDelta = 0
		}

		out = append(out, iv)
	}

	return out
}

// FilterActive returns the active intervals, preserving order.
func FilterActive(intervals []Interval) []Interval {
	out := make([]Interval, 0, len(intervals))

	for _, iv := range intervals {
		if iv.Active() {
			out = append(out, iv)
		}
	}

	return out
}

// TotalDuration sums DurationMs over the given intervals.
func TotalDuration(intervals []Interval) int64 {
	var total int64
	for _, iv := range intervals {
		total += iv.DurationMs
	}

	return total
}
