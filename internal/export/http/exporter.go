// Package http streams report rows to an HTTP endpoint as NDJSON.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/codec"
	"github.com/ethpandaops/poolspy/internal/export"
	"github.com/ethpandaops/poolspy/internal/version"
)

// Exporter posts batches of report rows as NDJSON.
type Exporter struct {
	cfg        Config
	client     *http.Client
	compressor *codec.Compressor
	metrics    *export.Metrics
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[export.ReportRow] = (*Exporter)(nil)

// NewExporter creates a new HTTP exporter. metrics may be nil.
func NewExporter(
	log logrus.FieldLogger,
	cfg Config,
	metrics *export.Metrics,
) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := codec.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Exporter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.ExportTimeout,
		},
		compressor: compressor,
		metrics:    metrics,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// ExportItems posts one batch of rows.
func (e *Exporter) ExportItems(ctx context.Context, items []*export.ReportRow) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(len(items) * 320)

	for _, item := range items {
		if item == nil {
			continue
		}

		line, err := sonic.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding row %s: %w", item.Entity, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	data := buf.Bytes()

	compressed, err := e.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.recordError()

		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.recordError()

		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"rows":       len(items),
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Exported report rows via HTTP")

	return nil
}

// Shutdown releases the exporter.
func (e *Exporter) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

func (e *Exporter) recordError() {
	if e.metrics != nil {
		e.metrics.ExportErrors.WithLabelValues("http").Inc()
	}
}

// Sink queues report rows and ships them in batches through an Exporter.
type Sink struct {
	log  logrus.FieldLogger
	proc *processor.BatchItemProcessor[export.ReportRow]
}

// NewSink creates a batching HTTP sink. metrics may be nil.
func NewSink(
	log logrus.FieldLogger,
	cfg Config,
	metrics *export.Metrics,
) (*Sink, error) {
	exporter, err := NewExporter(log, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	cfg = exporter.cfg

	proc, err := processor.NewBatchItemProcessor[export.ReportRow](
		exporter,
		"report_http",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return &Sink{
		log:  log.WithField("component", "http_sink"),
		proc: proc,
	}, nil
}

// Start starts the background batch workers.
func (s *Sink) Start(ctx context.Context) {
	s.proc.Start(ctx)
}

// Write queues rows for export.
func (s *Sink) Write(ctx context.Context, rows []*export.ReportRow) error {
	if err := s.proc.Write(ctx, rows); err != nil {
		return fmt.Errorf("queueing report rows: %w", err)
	}

	return nil
}

// Stop flushes queued rows and shuts the sink down.
func (s *Sink) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.proc.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http sink: %w", err)
	}

	return nil
}
