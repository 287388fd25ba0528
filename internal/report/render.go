package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/hako/durafmt"
	"github.com/shopspring/decimal"

	"github.com/ethpandaops/poolspy/internal/aggregate"
)

// Decimal places per column kind.
const (
	hoursPlaces    = 2
	ratePlaces     = 2
	earningsPlaces = 8
	fiatPlaces     = 2
)

func fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NaN"
	}

	return decimal.NewFromFloat(v).StringFixed(places)
}

// Header returns the window line that opens the text report.
func (r *Report) Header() string {
	span := r.Window.End.Sub(r.Window.Start)

	return fmt.Sprintf("%s (%s)", r.Window, durafmt.Parse(span).LimitFirstN(2).String())
}

func (r *Report) columns() []string {
	cols := []string{"Rig", "hours/day", r.Units.RateLabel, r.Units.EarningsLabel}
	if r.Price != nil {
		cols = append(cols, strings.ToUpper(r.Price.Currency)+"/day")
	}

	return cols
}

func (r *Report) record(row Row) []string {
	rec := []string{
		row.Label,
		fixed(row.HoursPerDay, hoursPlaces),
		fixed(row.WeightedRate, ratePlaces),
		fixed(row.WeightedEarnings, earningsPlaces),
	}

	if fiat, ok := r.Fiat(row); ok {
		rec = append(rec, fixed(fiat, fiatPlaces))
	}

	return rec
}

// Text renders the human-readable report: the window header, an aligned
// table with a Total row and a footer naming entities that failed.
func (r *Report) Text() string {
	var buf bytes.Buffer

	buf.WriteString(r.Header())
	buf.WriteString("\n\n")

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	writeLine := func(fields []string) {
		fmt.Fprintln(tw, strings.Join(fields, "\t")+"\t")
	}

	writeLine(r.columns())

	for _, row := range r.Rows {
		writeLine(r.record(row))
	}

	writeLine(r.record(r.Total))

	if r.Pool != nil {
		writeLine(r.record(*r.Pool))
	}

	_ = tw.Flush()

	if len(r.Failures) > 0 {
		buf.WriteString("\nFailed:\n")

		for _, f := range r.Failures {
			fmt.Fprintf(&buf, "  %s: %v\n", f.Label, f.Err)
		}
	}

	return buf.String()
}

// CSV renders the report rows, Total and pool included, as comma-separated
// values.
func (r *Report) CSV() ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	header := r.columns()
	header[0] = "label"

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for _, row := range r.AllRows() {
		if err := w.Write(r.record(row)); err != nil {
			return nil, fmt.Errorf("writing row %s: %w", row.Label, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DailyCSV renders the per-date hours table with one column per entity and
// a trailing Total column.
func DailyCSV(table *aggregate.DailyTable) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(table.Entities)+2)
	header = append(header, "date")
	header = append(header, table.Entities...)
	header = append(header, TotalLabel)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	totals := table.Totals()
	rec := make([]string, len(header))

	for _, date := range table.Dates {
		rec[0] = date

		for i, entity := range table.Entities {
			rec[i+1] = fixed(table.Value(entity, date), hoursPlaces)
		}

		rec[len(rec)-1] = fixed(totals[date], hoursPlaces)

		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("writing %s: %w", date, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
