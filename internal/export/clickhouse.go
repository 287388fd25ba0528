package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse report writer.
type ClickHouseConfig struct {
	// Enabled toggles the ClickHouse export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Table is the target table name.
	// Defaults to "pool_report".
	Table string `yaml:"table"`

	// DailyTable is the per-date hours table name.
	// Defaults to "pool_report_daily".
	DailyTable string `yaml:"daily_table"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// DialTimeout bounds connection setup.
	// Defaults to 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Validate checks the configuration for errors.
func (c *ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("clickhouse endpoint is required when enabled")
	}

	if c.Database == "" {
		return errors.New("clickhouse database is required when enabled")
	}

	return nil
}

// DSN returns the migrate-compatible connection string.
func (c *ClickHouseConfig) DSN() string {
	if c.Username == "" {
		return fmt.Sprintf("clickhouse://%s/%s", c.Endpoint, c.Database)
	}

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s/%s",
		c.Username, c.Password, c.Endpoint, c.Database,
	)
}

// ClickHouseWriter writes report rows to ClickHouse.
type ClickHouseWriter struct {
	log     logrus.FieldLogger
	cfg     ClickHouseConfig
	conn    clickhouse.Conn
	metrics *Metrics
}

// NewClickHouseWriter creates a new ClickHouse writer. metrics may be nil.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	metrics *Metrics,
) *ClickHouseWriter {
	if cfg.Table == "" {
		cfg.Table = "pool_report"
	}

	if cfg.DailyTable == "" {
		cfg.DailyTable = "pool_report_daily"
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &ClickHouseWriter{
		log:     log.WithField("component", "clickhouse"),
		cfg:     cfg,
		metrics: metrics,
	}
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  w.cfg.DialTimeout,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()

		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// WriteReport inserts rows in a single batch.
func (w *ClickHouseWriter) WriteReport(ctx context.Context, rows []*ReportRow) error {
	if len(rows) == 0 {
		return nil
	}

	if w.conn == nil {
		return errors.New("clickhouse writer not started")
	}

	table := fmt.Sprintf("%s.%s", w.cfg.Database, w.cfg.Table)

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		updated_date_time, run_id, organization, entity,
		window_start, window_end, period_days,
		hours_per_day, weighted_rate, weighted_earnings, active_ms,
		rate_unit, earnings_unit
	)`, table))
	if err != nil {
		w.recordError()

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.UpdatedDateTime, row.RunID, row.Organization, row.Entity,
			row.WindowStart, row.WindowEnd, row.PeriodDays,
			row.HoursPerDay, row.WeightedRate, row.WeightedEarnings, row.ActiveMs,
			row.RateUnit, row.EarningsUnit,
		); err != nil {
			w.recordError()

			return fmt.Errorf("appending row %s: %w", row.Entity, err)
		}
	}

	if err := batch.Send(); err != nil {
		w.recordError()

		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	w.log.WithField("rows", len(rows)).Info("Wrote report to ClickHouse")

	return nil
}

// WriteDaily inserts the per-date hours rows in a single batch.
func (w *ClickHouseWriter) WriteDaily(ctx context.Context, rows []*DailyRow) error {
	if len(rows) == 0 {
		return nil
	}

	if w.conn == nil {
		return errors.New("clickhouse writer not started")
	}

	table := fmt.Sprintf("%s.%s", w.cfg.Database, w.cfg.DailyTable)

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		updated_date_time, organization, entity, date, active_hours
	)`, table))
	if err != nil {
		w.recordError()

		return fmt.Errorf("preparing daily batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.UpdatedDateTime, row.Organization, row.Entity, row.Date, row.ActiveHours,
		); err != nil {
			w.recordError()

			return fmt.Errorf("appending daily row %s: %w", row.Entity, err)
		}
	}

	if err := batch.Send(); err != nil {
		w.recordError()

		return fmt.Errorf("sending daily batch of %d rows: %w", len(rows), err)
	}

	return nil
}

func (w *ClickHouseWriter) recordError() {
	if w.metrics != nil {
		w.metrics.ExportErrors.WithLabelValues("clickhouse").Inc()
	}
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}
