package aggregate

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Window is a reporting period in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Lookback returns the window of the given number of days ending at end.
func Lookback(end time.Time, days int) Window {
	end = end.UTC()

	return Window{
		Start: end.Add(-time.Duration(days) * day),
		End:   end,
	}
}

// MonthToDate returns the window from the first instant of end's UTC month up
// to end. An end on the first instant of a month yields the whole previous
// month.
func MonthToDate(end time.Time) Window {
	end = end.UTC()
	start := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)

	if start.Equal(end) {
		start = start.AddDate(0, -1, 0)
	}

	return Window{Start: start, End: end}
}

// Days returns the window length in days as a real number.
func (w Window) Days() float64 {
	return float64(w.End.Sub(w.Start)) / float64(day)
}

// StartMs returns the window start in epoch milliseconds.
func (w Window) StartMs() int64 { return w.Start.UnixMilli() }

// EndMs returns the window end in epoch milliseconds.
func (w Window) EndMs() int64 { return w.End.UnixMilli() }

// Month returns the first instant of the UTC month containing the window start.
func (w Window) Month() time.Time {
	s := w.Start.UTC()

	return time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s is not after start %s", w.End, w.Start)
	}

	return nil
}

func (w Window) String() string {
	const layout = "Jan 02 2006 15:04:05"

	return fmt.Sprintf(
		"%s UTC to %s UTC",
		w.Start.UTC().Format(layout),
		w.End.UTC().Format(layout),
	)
}
