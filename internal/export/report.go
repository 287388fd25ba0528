package export

import (
	"time"

	"github.com/ethpandaops/poolspy/internal/aggregate"
	"github.com/ethpandaops/poolspy/internal/report"
)

// ReportRow is one entity of one report run as stored in the warehouse and
// streamed to HTTP sinks.
type ReportRow struct {
	UpdatedDateTime  time.Time `json:"updated_date_time"`
	RunID            string    `json:"run_id"`
	Organization     string    `json:"organization"`
	Entity           string    `json:"entity"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	PeriodDays       float64   `json:"period_days"`
	HoursPerDay      float64   `json:"hours_per_day"`
	WeightedRate     float64   `json:"weighted_rate"`
	WeightedEarnings float64   `json:"weighted_earnings"`
	ActiveMs         int64     `json:"active_ms"`
	RateUnit         string    `json:"rate_unit"`
	EarningsUnit     string    `json:"earnings_unit"`
}

// ReportRows flattens r into one row per entity, the pool view included. The
// Total row is derived data and is not exported.
func ReportRows(runID string, r *report.Report) []*ReportRow {
	entities := r.Rows
	if r.Pool != nil {
		entities = append(entities[:len(entities):len(entities)], *r.Pool)
	}

	rows := make([]*ReportRow, 0, len(entities))

	for _, row := range entities {
		rows = append(rows, &ReportRow{
			UpdatedDateTime:  r.GeneratedAt,
			RunID:            runID,
			Organization:     r.Organization,
			Entity:           row.Label,
			WindowStart:      r.Window.Start,
			WindowEnd:        r.Window.End,
			PeriodDays:       r.Window.Days(),
			HoursPerDay:      row.HoursPerDay,
			WeightedRate:     row.WeightedRate,
			WeightedEarnings: row.WeightedEarnings,
			ActiveMs:         row.ActiveMs,
			RateUnit:         r.Units.RateLabel,
			EarningsUnit:     r.Units.EarningsLabel,
		})
	}

	return rows
}

// DailyRow is the active time of one entity on one UTC date.
type DailyRow struct {
	UpdatedDateTime time.Time `json:"updated_date_time"`
	Organization    string    `json:"organization"`
	Entity          string    `json:"entity"`
	Date            time.Time `json:"date"`
	ActiveHours     float64   `json:"active_hours"`
}

// DailyRows flattens table into one row per entity and date, zeros
// included.
func DailyRows(organization string, updated time.Time, table *aggregate.DailyTable) []*DailyRow {
	if table.Empty() {
		return nil
	}

	rows := make([]*DailyRow, 0, len(table.Dates)*len(table.Entities))

	for _, date := range table.Dates {
		day, err := time.Parse(aggregate.DateLayout, date)
		if err != nil {
			continue
		}

		for _, entity := range table.Entities {
			rows = append(rows, &DailyRow{
				UpdatedDateTime: updated,
				Organization:    organization,
				Entity:          entity,
				Date:            day,
				ActiveHours:     table.Value(entity, date),
			})
		}
	}

	return rows
}
