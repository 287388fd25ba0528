package spy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ethpandaops/poolspy/internal/export"
	exporthttp "github.com/ethpandaops/poolspy/internal/export/http"
	"github.com/ethpandaops/poolspy/internal/notify"
	"github.com/ethpandaops/poolspy/internal/report"
)

func newRunID() string {
	return uuid.NewString()
}

// notify posts the text report with the CSV files attached.
func (r *Runner) notify(ctx context.Context, text string, files report.Files) {
	if r.notifier == nil {
		return
	}

	attachments := make([]notify.Attachment, 0, 2)

	for _, path := range []string{files.CSV, files.Daily} {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.log.WithError(err).WithField("path", path).Warn("Failed to read report attachment")

			continue
		}

		attachments = append(attachments, notify.Attachment{
			Name:        filepath.Base(path),
			ContentType: "text/csv",
			Data:        data,
		})
	}

	if err := r.notifier.Notify(ctx, text, attachments); err != nil {
		r.metrics.NotifyErrors.Inc()
		r.log.WithError(err).Error("Failed to send report notification")
	}
}

// export ships the report rows to the enabled sinks.
func (r *Runner) export(ctx context.Context, res *Result) {
	rows := export.ReportRows(res.RunID, res.Report)
	daily := export.DailyRows(res.Report.Organization, res.Report.GeneratedAt, res.Daily)

	if r.cfg.Exports.ClickHouse.Enabled {
		r.exportClickHouse(ctx, rows, daily)
	}

	if r.cfg.Exports.HTTP.Enabled {
		r.exportHTTP(ctx, rows)
	}
}

func (r *Runner) exportClickHouse(
	ctx context.Context,
	rows []*export.ReportRow,
	daily []*export.DailyRow,
) {
	w := export.NewClickHouseWriter(r.log, r.cfg.Exports.ClickHouse, r.metrics)

	if err := w.Start(ctx); err != nil {
		r.metrics.ExportErrors.WithLabelValues("clickhouse").Inc()
		r.log.WithError(err).Error("Failed to connect to ClickHouse")

		return
	}

	defer func() {
		if err := w.Stop(); err != nil {
			r.log.WithError(err).Warn("Failed to close ClickHouse connection")
		}
	}()

	if err := w.WriteReport(ctx, rows); err != nil {
		r.log.WithError(err).Error("Failed to export report to ClickHouse")
	}

	if err := w.WriteDaily(ctx, daily); err != nil {
		r.log.WithError(err).Error("Failed to export daily hours to ClickHouse")
	}
}

func (r *Runner) exportHTTP(ctx context.Context, rows []*export.ReportRow) {
	sink, err := exporthttp.NewSink(r.log, r.cfg.Exports.HTTP, r.metrics)
	if err != nil {
		r.metrics.ExportErrors.WithLabelValues("http").Inc()
		r.log.WithError(err).Error("Failed to create HTTP sink")

		return
	}

	sink.Start(ctx)

	if err := sink.Write(ctx, rows); err != nil {
		r.log.WithError(err).Error("Failed to queue report rows")
	}

	// Stop flushes the queue.
	if err := sink.Stop(ctx); err != nil {
		r.log.WithError(err).Error("Failed to flush HTTP sink")
	}
}
