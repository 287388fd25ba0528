// Package aggregate turns reconstructed activity intervals into
// duration-weighted per-entity statistics and per-day activity buckets.
package aggregate

import (
	"github.com/ethpandaops/poolspy/internal/interval"
)

const (
	msPerHour = 1000 * 60 * 60
	msPerDay  = msPerHour * 24
)

// Result holds the duration-weighted statistics of one entity over a window.
type Result struct {
	// HoursPerDay is the average active time per day of the window.
	HoursPerDay float64
	// WeightedRate is the time-weighted daily-equivalent hash rate.
	WeightedRate float64
	// WeightedEarnings is the time-weighted daily-equivalent earnings rate,
	// multiplied by the earnings scale.
	WeightedEarnings float64
	// ActiveMs is the summed duration of active intervals.
	ActiveMs int64
}

// Add returns the column-wise sum of r and o.
func (r Result) Add(o Result) Result {
	return Result{
		HoursPerDay:      r.HoursPerDay + o.HoursPerDay,
		WeightedRate:     r.WeightedRate + o.WeightedRate,
		WeightedEarnings: r.WeightedEarnings + o.WeightedEarnings,
		ActiveMs:         r.ActiveMs + o.ActiveMs,
	}
}

// Aggregate computes duration-weighted statistics over the active intervals of
// a window of periodDays days. Inactive intervals are ignored. A non-positive
// period or an entity without active time yields a zero Result.
func Aggregate(
	intervals []interval.Interval,
	periodDays float64,
	earningsScale float64,
) Result {
	if periodDays <= 0 {
		return Result{}
	}

	if earningsScale == 0 {
		earningsScale = 1
	}

	var (
		activeMs    int64
		rateSum     float64
		earningsSum float64
	)

	for _, iv := range intervals {
		if !iv.Active() {
			continue
		}

		d := float64(iv.DurationMs)
		activeMs += iv.DurationMs
		rateSum += iv.SpeedAccepted * d
		earningsSum += iv.Profitability * d
	}

	if activeMs == 0 {
		return Result{}
	}

	return Result{
		HoursPerDay:      float64(activeMs) / msPerHour / periodDays,
		WeightedRate:     rateSum / msPerDay / periodDays,
		WeightedEarnings: earningsSum / msPerDay / periodDays * earningsScale,
		ActiveMs:         activeMs,
	}
}
