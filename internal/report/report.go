// Package report assembles per-entity aggregates into the run report and
// renders it as text and CSV.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/poolspy/internal/aggregate"
)

// TotalLabel labels the column-wise sum row.
const TotalLabel = "Total"

// Units describes how the rate and earnings columns are labelled and scaled.
type Units struct {
	RateLabel     string  `yaml:"rate_label"`
	EarningsLabel string  `yaml:"earnings_label"`
	EarningsScale float64 `yaml:"earnings_scale"`
}

// DefaultUnits returns MH/s and BTC/day with no scaling.
func DefaultUnits() Units {
	return Units{
		RateLabel:     "MH/s",
		EarningsLabel: "BTC/day",
		EarningsScale: 1,
	}
}

// Row is the aggregate of one entity.
type Row struct {
	Label string
	aggregate.Result
}

// Failure records an entity that could not be reported.
type Failure struct {
	Label string
	Err   error
}

// Price converts the settlement currency into a display fiat currency.
type Price struct {
	Currency string
	// PerUnit is the fiat value of one unscaled settlement unit.
	PerUnit float64
}

// Report is the assembled output of one run.
type Report struct {
	Organization string
	Window       aggregate.Window
	Units        Units
	Rows         []Row
	Total        Row
	// Pool is the pool-level view across algorithms. It overlaps the rig
	// rows and is kept out of Total.
	Pool         *Row
	Failures     []Failure
	Price        *Price
	GeneratedAt  time.Time
}

// Assemble sorts rows by label, computes the Total row as their column-wise
// sum and sorts failures by label. Total hours per day is a plain sum of
// rig-hours and may exceed 24.
func Assemble(
	organization string,
	window aggregate.Window,
	units Units,
	rows []Row,
	failures []Failure,
) *Report {
	if units.EarningsScale == 0 {
		units.EarningsScale = 1
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Label < sorted[j].Label
	})

	total := Row{Label: TotalLabel}
	for _, row := range sorted {
		total.Result = total.Result.Add(row.Result)
	}

	failed := make([]Failure, len(failures))
	copy(failed, failures)

	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].Label < failed[j].Label
	})

	return &Report{
		Organization: organization,
		Window:       window,
		Units:        units,
		Rows:         sorted,
		Total:        total,
		Failures:     failed,
		GeneratedAt:  time.Now().UTC(),
	}
}

// WithPrice attaches a fiat conversion, adding a fiat earnings column.
func (r *Report) WithPrice(p Price) *Report {
	r.Price = &p

	return r
}

// WithPool attaches the pool-level view.
func (r *Report) WithPool(row Row) *Report {
	r.Pool = &row

	return r
}

// Fiat returns the fiat earnings per day of row, or false when no price is
// attached.
func (r *Report) Fiat(row Row) (float64, bool) {
	if r.Price == nil {
		return 0, false
	}

	return row.WeightedEarnings / r.Units.EarningsScale * r.Price.PerUnit, true
}

// AllRows returns the entity rows followed by the Total row and, when
// attached, the pool row.
func (r *Report) AllRows() []Row {
	out := make([]Row, 0, len(r.Rows)+2)
	out = append(out, r.Rows...)
	out = append(out, r.Total)

	if r.Pool != nil {
		out = append(out, *r.Pool)
	}

	return out
}

// Month returns the UTC month the report is keyed by.
func (r *Report) Month() time.Time {
	return r.Window.Month()
}

// TextFileName returns the file name of the rendered text report.
func TextFileName(organization string, month time.Time) string {
	return fmt.Sprintf("report_%s_%s.txt", organization, month.UTC().Format("2006-01"))
}

// CSVFileName returns the file name of the delimited report.
func CSVFileName(organization string, month time.Time) string {
	return fmt.Sprintf("report_%s_%s.csv", organization, month.UTC().Format("2006-01"))
}

// DailyFileName returns the file name of the per-date hours table.
func DailyFileName(organization string, month time.Time) string {
	return fmt.Sprintf("daily_%s_%s.csv", organization, month.UTC().Format("2006-01"))
}
