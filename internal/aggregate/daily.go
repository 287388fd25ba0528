package aggregate

import (
	"sort"

	"github.com/ethpandaops/poolspy/internal/interval"
)

// DateLayout formats the UTC calendar date keys of daily buckets.
const DateLayout = "2006-01-02"

// DailyBuckets maps a UTC calendar date to active hours on that date.
type DailyBuckets map[string]float64

// DailyHours sums active interval durations, in hours, by the UTC date of the
// interval start.
func DailyHours(intervals []interval.Interval) DailyBuckets {
	buckets := make(DailyBuckets, 32)

	for _, iv := range intervals {
		if !iv.Active() {
			continue
		}

		date := iv.StartTime().Format(DateLayout)
		buckets[date] += float64(iv.DurationMs) / msPerHour
	}

	return buckets
}

// DailyTable is the per-date active-hours table across entities. Every entity
// has a value for every date present in any entity.
type DailyTable struct {
	Dates    []string
	Entities []string

	hours map[string]map[string]float64
}

// NewDailyTable combines per-entity buckets into a dense table.
func NewDailyTable(byEntity map[string]DailyBuckets) *DailyTable {
	dateSet := make(map[string]struct{}, 32)
	entities := make([]string, 0, len(byEntity))

	for entity, buckets := range byEntity {
		entities = append(entities, entity)

		for date := range buckets {
			dateSet[date] = struct{}{}
		}
	}

	dates := make([]string, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}

	sort.Strings(dates)
	sort.Strings(entities)

	hours := make(map[string]map[string]float64, len(entities))

	for _, entity := range entities {
		row := make(map[string]float64, len(dates))
		for _, date := range dates {
			row[date] = byEntity[entity][date]
		}

		hours[entity] = row
	}

	return &DailyTable{
		Dates:    dates,
		Entities: entities,
		hours:    hours,
	}
}

// Value returns the active hours of entity on date, zero when absent.
func (t *DailyTable) Value(entity, date string) float64 {
	return t.hours[entity][date]
}

// Totals returns the per-date sum across entities.
func (t *DailyTable) Totals() DailyBuckets {
	totals := make(DailyBuckets, len(t.Dates))

	for _, date := range t.Dates {
		var sum float64
		for _, entity := range t.Entities {
			sum += t.hours[entity][date]
		}

		totals[date] = sum
	}

	return totals
}

// Empty reports whether the table holds no dates.
func (t *DailyTable) Empty() bool {
	return t == nil || len(t.Dates) == 0
}
