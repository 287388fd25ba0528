// Package series holds the typed telemetry time series polled from the pool
// API and the normalizer that builds them from raw columnar records.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrDuplicateTimestamp is returned when two samples of one series share a
// timestamp. It is an integrity violation and is never repaired silently.
var ErrDuplicateTimestamp = errors.New("duplicate timestamp in series")

// Sample is one polled observation of an entity's counters.
type Sample struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64
	// SpeedAccepted is the accepted hash-rate counter.
	SpeedAccepted float64
	// Profitability is the earnings-rate counter.
	Profitability float64
}

// Time returns the sample timestamp as a UTC time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Series is an ordered, timestamp-unique sequence of samples for one entity.
// The zero value is an empty series.
type Series struct {
	samples []Sample
}

// New builds a Series from samples in any order. It fails with
// ErrDuplicateTimestamp if two samples share a timestamp.
func New(samples []Sample) (Series, error) {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Timestamp == sorted[i-1].Timestamp {
			return Series{}, fmt.Errorf(
				"%w: %d", ErrDuplicateTimestamp, sorted[i].Timestamp,
			)
		}
	}

	return Series{samples: sorted}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(samples ...Sample) Series {
	s, err := New(samples)
	if err != nil {
		panic(err)
	}

	return s
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.samples) }

// Empty reports whether the series has no samples.
func (s Series) Empty() bool { return len(s.samples) == 0 }

// At returns the i-th sample.
func (s Series) At(i int) Sample { return s.samples[i] }

// First returns the earliest sample. It panics on an empty series.
func (s Series) First() Sample { return s.samples[0] }

// Last returns the latest sample. It panics on an empty series.
func (s Series) Last() Sample { return s.samples[len(s.samples)-1] }

// Samples returns a copy of the samples in timestamp order.
func (s Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)

	return out
}

// Timestamps returns the sample timestamps in order.
func (s Series) Timestamps() []int64 {
	out := make([]int64, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.Timestamp
	}

	return out
}

// Between returns the samples with startMs <= timestamp <= endMs.
func (s Series) Between(startMs, endMs int64) Series {
	lo := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Timestamp >= startMs
	})
	hi := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Timestamp > endMs
	})

	if lo >= hi {
		return Series{}
	}

	return Series{samples: s.samples[lo:hi:hi]}
}

// Before returns the samples with timestamp < ms.
func (s Series) Before(ms int64) Series {
	hi := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Timestamp >= ms
	})

	return Series{samples: s.samples[:hi:hi]}
}

// Combine merges several series of the same entity, typically one per mining
// algorithm, by grouping on identical timestamps and summing the counters.
// A timestamp missing from one series contributes nothing to the sum.
func Combine(parts ...Series) Series {
	byTime := make(map[int64]Sample, 256)

	for _, part := range parts {
		for _, sample := range part.samples {
			acc := byTime[sample.Timestamp]
			acc.Timestamp = sample.Timestamp
			acc.SpeedAccepted += sample.SpeedAccepted
			acc.Profitability += sample.Profitability
			byTime[sample.Timestamp] = acc
		}
	}

	samples := make([]Sample, 0, len(byTime))
	for _, sample := range byTime {
		samples = append(samples, sample)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})

	return Series{samples: samples}
}
