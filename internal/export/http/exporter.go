// Package http streams finished events to Vector or any other HTTP
// endpoint accepting newline-delimited JSON.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
)

// maxErrorBody bounds how much of an error response is quoted.
const maxErrorBody = 512

// Exporter implements processor.ItemExporter for HTTP NDJSON export.
type Exporter[T any] struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger

	exported atomic.Uint64
	failed   atomic.Uint64
}

// compile-time check that Exporter implements ItemExporter.
var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates a new HTTP exporter.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.ExportTimeout,
	}

	return &Exporter[T]{
		cfg:        cfg,
		client:     client,
		compressor: compressor,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// ExportItems exports a batch of items to the HTTP endpoint as NDJSON.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	data, count, err := encodeNDJSON(items)
	if err != nil {
		e.failed.Add(1)

		return err
	}

	if count == 0 {
		return nil
	}

	if err := e.send(ctx, data); err != nil {
		e.failed.Add(1)

		return err
	}

	e.exported.Add(uint64(count))

	return nil
}

func (e *Exporter[T]) send(ctx context.Context, data []byte) error {
	compressed, err := e.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	e.log.WithFields(logrus.Fields{
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Exported batch via HTTP")

	return nil
}

// encodeNDJSON marshals non-nil items one per line.
func encodeNDJSON[T any](items []*T) ([]byte, int, error) {
	var buf bytes.Buffer

	buf.Grow(len(items) * 256)

	encoder := json.NewEncoder(&buf)
	count := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := encoder.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding item: %w", err)
		}

		count++
	}

	return buf.Bytes(), count, nil
}

// Exported returns how many items were delivered.
func (e *Exporter[T]) Exported() uint64 { return e.exported.Load() }

// Failed returns how many batches failed to export.
func (e *Exporter[T]) Failed() uint64 { return e.failed.Load() }

// Shutdown shuts down the exporter.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	e.client.CloseIdleConnections()

	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

// NewProcessor creates a BatchItemProcessor with this exporter.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(exporter.cfg.MaxQueueSize),
		processor.WithBatchTimeout(exporter.cfg.BatchTimeout),
		processor.WithExportTimeout(exporter.cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(exporter.cfg.BatchSize),
		processor.WithWorkers(exporter.cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
