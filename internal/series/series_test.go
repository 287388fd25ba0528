package series

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SortsSamples(t *testing.T) {
	s, err := New([]Sample{
		{Timestamp: 300},
		{Timestamp: 100},
		{Timestamp: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300}, s.Timestamps())
	assert.Equal(t, int64(100), s.First().Timestamp)
	assert.Equal(t, int64(300), s.Last().Timestamp)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]Sample{{Timestamp: 100}, {Timestamp: 100}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateTimestamp))
}

func TestSeries_Between(t *testing.T) {
	s := MustNew(
		Sample{Timestamp: 0},
		Sample{Timestamp: 10},
		Sample{Timestamp: 20},
		Sample{Timestamp: 30},
	)

	assert.Equal(t, []int64{10, 20}, s.Between(5, 20).Timestamps())
	assert.Equal(t, []int64{0, 10, 20, 30}, s.Between(0, 30).Timestamps())
	assert.True(t, s.Between(31, 40).Empty())
	assert.Equal(t, []int64{0, 10}, s.Before(20).Timestamps())
}

func TestSeries_SamplesIsCopy(t *testing.T) {
	s := MustNew(Sample{Timestamp: 1, SpeedAccepted: 5})

	samples := s.Samples()
	samples[0].SpeedAccepted = 99

	assert.Equal(t, 5.0, s.At(0).SpeedAccepted)
}

func TestNormalize(t *testing.T) {
	raw := Raw{
		Columns: []string{"time", "speed_accepted", "speed_rejected", "profitability"},
		Rows: [][]any{
			{float64(120000), 100.0, 0.0, 0.00002},
			{float64(0), 0.0, 0.0, 0.00001},
			{float64(60000), 100.0, 1.0, 0.00002},
		},
	}

	s, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, []int64{0, 60000, 120000}, s.Timestamps())
	assert.Equal(t, 100.0, s.At(1).SpeedAccepted)
	assert.Equal(t, 0.00002, s.At(2).Profitability)
}

func TestNormalize_DecodedJSON(t *testing.T) {
	payload := `{"columns":["time","profitability","speed_accepted"],
		"data":[[1700000060000,"0.5",12],[1700000000000,0.25,10]]}`

	var raw Raw
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	s, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, []int64{1700000000000, 1700000060000}, s.Timestamps())
	assert.Equal(t, 0.5, s.At(1).Profitability)
	assert.Equal(t, 12.0, s.At(1).SpeedAccepted)
}

func TestNormalize_DuplicateRowsKeepLast(t *testing.T) {
	raw := Raw{
		Columns: []string{"time", "speed_accepted", "profitability"},
		Rows: [][]any{
			{100, 1.0, 0.0},
			{100, 2.0, 0.0},
		},
	}

	s, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, 2.0, s.At(0).SpeedAccepted)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		raw    Raw
		column string
		row    int
	}{
		{
			name:   "missing time column",
			raw:    Raw{Columns: []string{"speed_accepted", "profitability"}},
			column: ColumnTime,
			row:    -1,
		},
		{
			name:   "missing counter column",
			raw:    Raw{Columns: []string{"time", "profitability"}},
			column: ColumnSpeedAccepted,
			row:    -1,
		},
		{
			name: "non-numeric timestamp",
			raw: Raw{
				Columns: []string{"time", "speed_accepted", "profitability"},
				Rows:    [][]any{{100, 1.0, 0.0}, {"yesterday", 1.0, 0.0}},
			},
			column: ColumnTime,
			row:    1,
		},
		{
			name: "fractional timestamp",
			raw: Raw{
				Columns: []string{"time", "speed_accepted", "profitability"},
				Rows:    [][]any{{100.5, 1.0, 0.0}},
			},
			column: ColumnTime,
			row:    0,
		},
		{
			name: "null counter",
			raw: Raw{
				Columns: []string{"time", "speed_accepted", "profitability"},
				Rows:    [][]any{{100, nil, 0.0}},
			},
			column: ColumnSpeedAccepted,
			row:    0,
		},
		{
			name: "short row",
			raw: Raw{
				Columns: []string{"time", "speed_accepted", "profitability"},
				Rows:    [][]any{{100, 1.0}},
			},
			column: ColumnProfitability,
			row:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			require.Error(t, err)

			var merr *MalformedRecordError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.column, merr.Column)
			assert.Equal(t, tt.row, merr.Row)
		})
	}
}

func TestNormalize_Empty(t *testing.T) {
	s, err := Normalize(Raw{Columns: []string{"time", "speed_accepted", "profitability"}})
	require.NoError(t, err)
	assert.True(t, s.Empty())
}

func TestCombine(t *testing.T) {
	algoA := MustNew(
		Sample{Timestamp: 0, SpeedAccepted: 10, Profitability: 1},
		Sample{Timestamp: 60, SpeedAccepted: 20, Profitability: 2},
	)
	algoB := MustNew(
		Sample{Timestamp: 60, SpeedAccepted: 5, Profitability: 0.5},
		Sample{Timestamp: 120, SpeedAccepted: 7, Profitability: 0.7},
	)

	combined := Combine(algoA, algoB)

	require.Equal(t, 3, combined.Len())
	assert.Equal(t, []int64{0, 60, 120}, combined.Timestamps())
	assert.Equal(t, 10.0, combined.At(0).SpeedAccepted)
	assert.Equal(t, 25.0, combined.At(1).SpeedAccepted)
	assert.InDelta(t, 2.5, combined.At(1).Profitability, 1e-12)
	assert.Equal(t, 7.0, combined.At(2).SpeedAccepted)
}

func TestCombine_NoParts(t *testing.T) {
	assert.True(t, Combine().Empty())
}
