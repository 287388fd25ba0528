package series

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Column names used by the pool API.
const (
	ColumnTime          = "time"
	ColumnSpeedAccepted = "speed_accepted"
	ColumnProfitability = "profitability"
)

// Raw is a columnar record set as returned by the pool API.
type Raw struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"data"`
}

// MalformedRecordError reports a raw record set that cannot be normalized.
type MalformedRecordError struct {
	Column string
	// Row is the offending row index, or -1 for a missing column.
	Row    int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("malformed record: column %q: %s", e.Column, e.Reason)
	}

	return fmt.Sprintf(
		"malformed record: row %d column %q: %s", e.Row, e.Column, e.Reason,
	)
}

// Normalize validates a raw record set and converts it into a Series sorted by
// timestamp. Rows repeating a timestamp are collapsed, keeping the last one.
func Normalize(raw Raw) (Series, error) {
	timeIdx, err := columnIndex(raw.Columns, ColumnTime)
	if err != nil {
		return Series{}, err
	}

	speedIdx, err := columnIndex(raw.Columns, ColumnSpeedAccepted)
	if err != nil {
		return Series{}, err
	}

	profitIdx, err := columnIndex(raw.Columns, ColumnProfitability)
	if err != nil {
		return Series{}, err
	}

	byTime := make(map[int64]Sample, len(raw.Rows))

	for i, row := range raw.Rows {
		ts, err := cell(row, i, timeIdx, ColumnTime)
		if err != nil {
			return Series{}, err
		}

		if ts != math.Trunc(ts) {
			return Series{}, &MalformedRecordError{
				Column: ColumnTime,
				Row:    i,
				Reason: fmt.Sprintf("timestamp %v is not an integer", ts),
			}
		}

		speed, err := cell(row, i, speedIdx, ColumnSpeedAccepted)
		if err != nil {
			return Series{}, err
		}

		profit, err := cell(row, i, profitIdx, ColumnProfitability)
		if err != nil {
			return Series{}, err
		}

		byTime[int64(ts)] = Sample{
			Timestamp:     int64(ts),
			SpeedAccepted: speed,
			Profitability: profit,
		}
	}

	samples := make([]Sample, 0, len(byTime))
	for _, sample := range byTime {
		samples = append(samples, sample)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})

	return Series{samples: samples}, nil
}

func columnIndex(columns []string, name string) (int, error) {
	for i, c := range columns {
		if c == name {
			return i, nil
		}
	}

	return 0, &MalformedRecordError{Column: name, Row: -1, Reason: "missing"}
}

func cell(row []any, rowIdx, colIdx int, column string) (float64, error) {
	if colIdx >= len(row) {
		return 0, &MalformedRecordError{
			Column: column,
			Row:    rowIdx,
			Reason: fmt.Sprintf("row has %d values", len(row)),
		}
	}

	v, ok := toFloat(row[colIdx])
	if !ok {
		return 0, &MalformedRecordError{
			Column: column,
			Row:    rowIdx,
			Reason: fmt.Sprintf("non-numeric value %v", row[colIdx]),
		}
	}

	return v, nil
}

func toFloat(v any) (float64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}

		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
