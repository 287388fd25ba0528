// Package spy runs one report: it resolves the window and the entities to
// report, reconstructs each entity's activity from the pool API and writes,
// prints and ships the assembled report.
package spy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/aggregate"
	"github.com/ethpandaops/poolspy/internal/export"
	"github.com/ethpandaops/poolspy/internal/nicehash"
	"github.com/ethpandaops/poolspy/internal/notify"
	"github.com/ethpandaops/poolspy/internal/pricing"
	"github.com/ethpandaops/poolspy/internal/report"
	"github.com/ethpandaops/poolspy/internal/rigdir"
	"github.com/ethpandaops/poolspy/internal/snapshot"
)

// Result is the outcome of a completed run.
type Result struct {
	RunID  string
	Report *report.Report
	Daily  *aggregate.DailyTable
	Files  report.Files
}

// Runner executes report runs.
type Runner struct {
	log       logrus.FieldLogger
	cfg       *Config
	metrics   *export.Metrics
	client    nicehash.Client
	directory *rigdir.Store
	snapshots *snapshot.Store
	prices    *pricing.Service
	notifier  *notify.Notifier
	out       io.Writer
	now       func() time.Time
}

// Option customises a Runner.
type Option func(*Runner)

// WithClient replaces the pool API client.
func WithClient(c nicehash.Client) Option {
	return func(r *Runner) { r.client = c }
}

// WithOutput sets where the text report is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithClock sets the time source used when no end time is given.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner from cfg.
func New(log logrus.FieldLogger, cfg *Config, opts ...Option) (*Runner, error) {
	metrics := export.NewMetrics(log, cfg.Metrics)

	r := &Runner{
		log:       log.WithField("component", "spy"),
		cfg:       cfg,
		metrics:   metrics,
		snapshots: snapshot.NewStore(log, cfg.Snapshots),
		out:       os.Stdout,
		now:       time.Now,
	}

	if cfg.DirectoryPath != "" {
		r.directory = rigdir.NewStore(log, cfg.DirectoryPath)
	}

	if cfg.Pricing.Enabled {
		r.prices = pricing.NewService(log, cfg.Pricing)
	}

	if cfg.Notify.Enabled {
		n, err := notify.New(log, cfg.Notify)
		if err != nil {
			return nil, fmt.Errorf("creating notifier: %w", err)
		}

		r.notifier = n
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		r.client = nicehash.NewClient(log, cfg.NiceHash, metrics)
	}

	return r, nil
}

// Metrics returns the run metrics.
func (r *Runner) Metrics() *export.Metrics {
	return r.metrics
}

// Window returns the reporting window ending at end, or at the current time
// when end is zero.
func (r *Runner) Window(end time.Time) aggregate.Window {
	if end.IsZero() {
		end = r.now()
	}

	if r.cfg.Window.Monthly {
		return aggregate.MonthToDate(end)
	}

	return aggregate.Lookback(end, r.cfg.Window.Days)
}

// Run produces the report of the window ending at end. Entities that cannot
// be fetched or parsed are listed as failures in the report. A corrupt
// snapshot aborts the run.
func (r *Runner) Run(ctx context.Context, end time.Time) (*Result, error) {
	started := time.Now()
	window := r.Window(end)

	if err := window.Validate(); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"window":  window.String(),
		"monthly": r.cfg.Window.Monthly,
	}).Info("Starting report run")

	// 1. Resolve the entities to report.
	entities, err := r.entities(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Fetch and reconstruct every entity, bounded by the concurrency.
	outcomes := make([]outcome, len(entities))
	swg := sizedwaitgroup.New(r.cfg.Concurrency)

	for i, e := range entities {
		swg.Add()

		go func(i int, e entity) {
			defer swg.Done()

			outcomes[i] = r.process(ctx, e, window)
		}(i, e)
	}

	swg.Wait()

	// 3. Assemble the report.
	rep, daily, err := r.assemble(window, outcomes)
	if err != nil {
		return nil, err
	}

	r.attachPrice(ctx, rep)

	files, err := rep.WriteFiles(r.cfg.Output.Dir, daily)
	if err != nil {
		return nil, fmt.Errorf("writing report files: %w", err)
	}

	text := rep.Text()

	if _, err := io.WriteString(r.out, text); err != nil {
		return nil, fmt.Errorf("printing report: %w", err)
	}

	res := &Result{
		RunID:  newRunID(),
		Report: rep,
		Daily:  daily,
		Files:  files,
	}

	// 4. Deliver. Failures here never fail the run.
	r.notify(ctx, text, files)
	r.export(ctx, res)

	r.metrics.ObserveRun(started, time.Now())

	if err := r.metrics.Push(ctx); err != nil {
		r.log.WithError(err).Warn("Failed to push run metrics")
	}

	r.log.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"entities": len(rep.Rows),
		"failed":   len(rep.Failures),
		"text":     files.Text,
	}).Info("Report run complete")

	return res, nil
}

// entities returns the rigs of the refreshed rig directory followed by the
// pool entity when enabled.
func (r *Runner) entities(ctx context.Context) ([]entity, error) {
	live := make(rigdir.Directory, 16)

	rigs, err := r.client.FetchRigs(ctx)
	if err != nil {
		// The cached directory and the configured rigs still identify
		// the entities.
		r.log.WithError(err).Warn("Failed to fetch rig roster, using cached directory")
	}

	for _, rig := range rigs {
		live[rig.ID] = rig.Name
	}

	var dir rigdir.Directory

	if r.directory != nil {
		dir, err = r.directory.Refresh(live, r.cfg.Rigs)
		if err != nil {
			return nil, fmt.Errorf("refreshing rig directory: %w", err)
		}
	} else {
		dir = rigdir.Merge(nil, live, r.cfg.Rigs)
	}

	reserved := []string{report.TotalLabel}
	if r.cfg.Pool.Enabled {
		reserved = append(reserved, r.cfg.Pool.Label)
	}

	entries := dir.Entries(reserved...)
	out := make([]entity, 0, len(entries)+1)

	for _, e := range entries {
		out = append(out, r.rigEntity(e))
	}

	if r.cfg.Pool.Enabled {
		out = append(out, r.poolEntity())
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no rigs to report")
	}

	r.log.WithField("entities", len(out)).Debug("Resolved entities")

	return out, nil
}

func (r *Runner) attachPrice(ctx context.Context, rep *report.Report) {
	if r.prices == nil {
		return
	}

	price, err := r.prices.BTCPrice(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Failed to fetch fiat price, omitting fiat column")

		return
	}

	rep.WithPrice(report.Price{
		Currency: r.prices.Fiat(),
		PerUnit:  price,
	})
}
