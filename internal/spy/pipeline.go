package spy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/aggregate"
	"github.com/ethpandaops/poolspy/internal/interval"
	"github.com/ethpandaops/poolspy/internal/report"
	"github.com/ethpandaops/poolspy/internal/rigdir"
	"github.com/ethpandaops/poolspy/internal/series"
	"github.com/ethpandaops/poolspy/internal/snapshot"
)

// Failure reasons reported in metrics.
const (
	reasonFetch     = "fetch"
	reasonMalformed = "malformed"
	reasonSnapshot  = "snapshot"
)

// poolSnapshotPrefix keeps pool snapshots apart from rig snapshots.
const poolSnapshotPrefix = "pool-"

type fetchFunc func(ctx context.Context, startMs, endMs int64) (series.Series, error)

// entity is one reportable series source.
type entity struct {
	// id keys the entity's snapshots.
	id    string
	label string
	pool  bool
	fetch fetchFunc
}

type outcome struct {
	entity entity
	result aggregate.Result
	daily  aggregate.DailyBuckets

	samples int
	active  int

	err    error
	reason string
	fatal  bool
}

func (r *Runner) rigEntity(e rigdir.Entry) entity {
	return entity{
		id:    e.ID,
		label: e.Label,
		fetch: func(ctx context.Context, startMs, endMs int64) (series.Series, error) {
			raw, err := r.client.FetchRigStats(ctx, e.ID, startMs, endMs)
			if err != nil {
				return series.Series{}, err
			}

			return series.Normalize(raw)
		},
	}
}

// poolEntity sums the per-algorithm series of the organization.
func (r *Runner) poolEntity() entity {
	label := r.cfg.Pool.Label
	algorithms := r.cfg.Pool.Algorithms

	return entity{
		id:    poolSnapshotPrefix + label,
		label: label,
		pool:  true,
		fetch: func(ctx context.Context, startMs, endMs int64) (series.Series, error) {
			parts := make([]series.Series, 0, len(algorithms))

			for _, algo := range algorithms {
				raw, err := r.client.FetchAlgoStats(ctx, algo, startMs, endMs)
				if err != nil {
					return series.Series{}, err
				}

				s, err := series.Normalize(raw)
				if err != nil {
					return series.Series{}, fmt.Errorf("algorithm %s: %w", algo, err)
				}

				parts = append(parts, s)
			}

			return series.Combine(parts...), nil
		},
	}
}

// snapshotting reports whether runs keep incremental snapshots. Snapshots are
// keyed by month, so only month-to-date windows use them.
func (r *Runner) snapshotting() bool {
	return r.cfg.Window.Monthly && r.cfg.Snapshots.Enabled
}

// process fetches one entity and reduces it to its aggregate over window.
func (r *Runner) process(
	ctx context.Context,
	e entity,
	window aggregate.Window,
) outcome {
	log := r.log.WithField("entity", e.label)
	out := outcome{entity: e}

	fail := func(reason string, err error) outcome {
		out.reason = reason
		out.err = err

		var corrupt *snapshot.CorruptionError
		out.fatal = errors.As(err, &corrupt)

		log.WithError(err).WithField("reason", reason).Warn("Failed to process entity")

		return out
	}

	var (
		key     snapshot.Key
		startMs = window.StartMs()
		endMs   = window.EndMs()
	)

	// Monthly runs resume from the newest stored sample.
	if r.snapshotting() {
		key = snapshot.NewKey(r.cfg.NiceHash.OrganizationID, e.id, window.Start)

		latest, ok, err := r.snapshots.LatestTimestamp(key)
		if err != nil {
			return fail(reasonSnapshot, err)
		}

		if ok && latest > startMs && latest <= endMs {
			startMs = latest
		}
	}

	fresh, err := e.fetch(ctx, startMs, endMs)
	if err != nil {
		var malformed *series.MalformedRecordError
		if errors.As(err, &malformed) {
			return fail(reasonMalformed, err)
		}

		return fail(reasonFetch, err)
	}

	out.samples = fresh.Len()

	data := fresh

	if r.snapshotting() {
		data, err = r.snapshots.Update(ctx, key, fresh)
		if err != nil {
			return fail(reasonSnapshot, err)
		}
	}

	data = data.Between(window.StartMs(), endMs)

	active := interval.FilterActive(interval.Reconstruct(data, r.cfg.StalenessThreshold))

	out.active = len(active)
	out.result = aggregate.Aggregate(active, window.Days(), r.cfg.Units.EarningsScale)
	out.daily = aggregate.DailyHours(active)

	log.WithFields(logrus.Fields{
		"samples":       data.Len(),
		"fetched":       out.samples,
		"hours_per_day": out.result.HoursPerDay,
	}).Debug("Processed entity")

	return out
}

// assemble folds the outcomes into the report and the daily table. The pool
// entity is kept out of the rig rows and the daily table.
func (r *Runner) assemble(
	window aggregate.Window,
	outcomes []outcome,
) (*report.Report, *aggregate.DailyTable, error) {
	var (
		rows     = make([]report.Row, 0, len(outcomes))
		failures = make([]report.Failure, 0, 4)
		byEntity = make(map[string]aggregate.DailyBuckets, len(outcomes))
		pool     *report.Row
	)

	for _, o := range outcomes {
		if o.fatal {
			return nil, nil, fmt.Errorf("entity %s: %w", o.entity.label, o.err)
		}
	}

	for _, o := range outcomes {
		label := o.entity.label

		if o.err != nil {
			failures = append(failures, report.Failure{Label: label, Err: o.err})
			r.metrics.EntitiesFailed.WithLabelValues(o.reason).Inc()

			continue
		}

		r.metrics.EntitiesProcessed.Inc()
		r.metrics.SamplesFetched.Add(float64(o.samples))
		r.metrics.IntervalsActive.Add(float64(o.active))
		r.metrics.HoursPerDay.WithLabelValues(label).Set(o.result.HoursPerDay)
		r.metrics.WeightedRate.WithLabelValues(label).Set(o.result.WeightedRate)
		r.metrics.WeightedEarnings.WithLabelValues(label).Set(o.result.WeightedEarnings)

		row := report.Row{Label: label, Result: o.result}

		if o.entity.pool {
			pool = &row

			continue
		}

		rows = append(rows, row)
		byEntity[label] = o.daily
	}

	rep := report.Assemble(
		r.cfg.NiceHash.OrganizationID,
		window,
		r.cfg.Units,
		rows,
		failures,
	)

	if pool != nil {
		rep.WithPool(*pool)
	}

	return rep, aggregate.NewDailyTable(byEntity), nil
}
