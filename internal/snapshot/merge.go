// Package snapshot persists per-entity monthly series to disk and merges
// freshly fetched samples into them.
package snapshot

import (
	"fmt"

	"github.com/ethpandaops/poolspy/internal/series"
)

// CorruptionError reports a snapshot that violates the unique-timestamp
// invariant. It is fatal for a run and is never repaired.
type CorruptionError struct {
	// Path is the snapshot file, empty when the error arose in memory.
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("snapshot corrupted: %v", e.Err)
	}

	return fmt.Sprintf("snapshot %s corrupted: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Merge folds fresh into an existing snapshot. Existing samples at or after
// the earliest fresh timestamp are superseded by fresh; earlier ones are
// kept. A nil existing snapshot yields fresh unchanged.
func Merge(existing *series.Series, fresh series.Series) (series.Series, error) {
	if existing == nil {
		return fresh, nil
	}

	if fresh.Empty() {
		return *existing, nil
	}

	retained := existing.Before(fresh.First().Timestamp)

	samples := make([]series.Sample, 0, retained.Len()+fresh.Len())
	samples = append(samples, retained.Samples()...)
	samples = append(samples, fresh.Samples()...)

	merged, err := series.New(samples)
	if err != nil {
		return series.Series{}, &CorruptionError{Err: err}
	}

	return merged, nil
}
