// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var batchTracer = otel.Tracer("atlas.batch")

// Dispatcher defaults.
const (
	DefaultBatchSize = 1000
	DefaultWorkers   = 2
)

// RetryPolicy bounds how a failed batch write is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per batch. Must be >= 1.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// Jitter randomizes each backoff by up to this fraction (0.0-1.0).
	Jitter float64
}

// DefaultRetryPolicy returns the standard policy: three tries with
// 100ms initial backoff capped at 5s, 25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         0.25,
	}
}

// Validate rejects out-of-range policy fields.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrInvalidRetryPolicy, p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("%w: negative backoff", ErrInvalidRetryPolicy)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("%w: jitter %v outside [0, 1]", ErrInvalidRetryPolicy, p.Jitter)
	}
	return nil
}

// backoff returns the delay before the given retry attempt (1-based),
// exponential with jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff * time.Duration(1<<(attempt-1))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	jitterRange := float64(d) * p.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	d = time.Duration(float64(d) + jitter)
	if d < 0 {
		d = p.InitialBackoff
	}
	return d
}

// WriteFunc persists one batch, identified by the half-open item range
// [start, end). It must be idempotent.
type WriteFunc func(ctx context.Context, start, end int) error

// Options configures a Dispatcher.
type Options struct {
	// BatchSize is the fixed number of items per batch. Default: 1000
	BatchSize int

	// Workers bounds concurrent batch writes. Default: 2
	Workers int

	// Retry is the per-batch retry policy.
	Retry RetryPolicy

	// Retryable classifies whether an error is worth retrying. Nil
	// means every error is treated as transient; with fully
	// overwriting writes, a spurious retry is harmless.
	Retryable func(error) bool
}

// DefaultOptions returns the standard dispatcher configuration.
func DefaultOptions() Options {
	return Options{
		BatchSize: DefaultBatchSize,
		Workers:   DefaultWorkers,
		Retry:     DefaultRetryPolicy(),
	}
}

// Validate rejects out-of-range options.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, o.BatchSize)
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, o.Workers)
	}
	return o.Retry.Validate()
}

// BatchResult records one batch's outcome.
type BatchResult struct {
	// Batch is the zero-based batch index.
	Batch int `json:"batch"`

	// Start and End delimit the half-open item range.
	Start int `json:"start"`
	End   int `json:"end"`

	// Attempts is how many tries the batch took.
	Attempts int `json:"attempts"`

	// Err is the final error after exhausting retries, nil on success.
	Err error `json:"-"`

	// Error is Err's message for serialization.
	Error string `json:"error,omitempty"`
}

// Report aggregates a full dispatch run.
type Report struct {
	TotalItems   int           `json:"total_items"`
	BatchSize    int           `json:"batch_size"`
	Batches      int           `json:"batches"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	ItemsWritten int           `json:"items_written"`
	ItemsFailed  int           `json:"items_failed"`
	Results      []BatchResult `json:"results"`
	Duration     time.Duration `json:"-"`
}

// Dispatcher splits an item range into fixed-size batches and writes
// them with bounded parallelism.
//
// Thread Safety: safe for concurrent use; run state is local to Run.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Options are validated eagerly.
func NewDispatcher(opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{opts: opts, logger: logger}, nil
}

// Run writes total items through fn in fixed-size batches.
//
// Description:
//
//	Each batch is retried per the policy on errors the Retryable
//	classifier accepts. A batch that exhausts its retries is recorded
//	in the report and does not cancel sibling batches; only context
//	cancellation stops the run early.
//
// Outputs:
//
//   - *Report: Always non-nil, with per-batch results sorted by index.
//   - error: ErrNilWriteFunc, ctx.Err(), or ErrBatchesFailed when any
//     batch failed. The report is valid alongside ErrBatchesFailed.
func (d *Dispatcher) Run(ctx context.Context, total int, fn WriteFunc) (*Report, error) {
	if fn == nil {
		return nil, ErrNilWriteFunc
	}

	batches := (total + d.opts.BatchSize - 1) / d.opts.BatchSize

	ctx, span := batchTracer.Start(ctx, "Dispatcher.Run",
		trace.WithAttributes(
			attribute.Int("total_items", total),
			attribute.Int("batch_size", d.opts.BatchSize),
			attribute.Int("batches", batches),
			attribute.Int("workers", d.opts.Workers),
		),
	)
	defer span.End()

	start := time.Now()
	report := &Report{
		TotalItems: total,
		BatchSize:  d.opts.BatchSize,
		Batches:    batches,
		Results:    make([]BatchResult, 0, batches),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for b := 0; b < batches; b++ {
		lo := b * d.opts.BatchSize
		hi := lo + d.opts.BatchSize
		if hi > total {
			hi = total
		}
		b := b
		g.Go(func() error {
			// Only cancellation propagates as a group error; batch
			// failures must leave sibling batches running.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result := d.writeBatch(gctx, b, lo, hi, fn)
			mu.Lock()
			report.Results = append(report.Results, result)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.AddEvent("cancelled")
		return report, err
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Batch < report.Results[j].Batch
	})
	for _, r := range report.Results {
		if r.Err == nil {
			report.Succeeded++
			report.ItemsWritten += r.End - r.Start
		} else {
			report.Failed++
			report.ItemsFailed += r.End - r.Start
		}
	}
	report.Duration = time.Since(start)

	d.logger.Debug("batch dispatch complete",
		slog.Int("batches", report.Batches),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("items_written", report.ItemsWritten),
		slog.Duration("duration", report.Duration),
	)

	if report.Failed > 0 {
		return report, ErrBatchesFailed
	}
	return report, nil
}

// writeBatch runs one batch through the retry policy.
func (d *Dispatcher) writeBatch(ctx context.Context, index, lo, hi int, fn WriteFunc) BatchResult {
	result := BatchResult{Batch: index, Start: lo, End: hi}

	var lastErr error
	for attempt := 1; attempt <= d.opts.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				result.Attempts = attempt - 1
				result.Err = ctx.Err()
				result.Error = result.Err.Error()
				return result
			case <-time.After(d.opts.Retry.backoff(attempt - 1)):
			}
		}

		result.Attempts = attempt
		lastErr = fn(ctx, lo, hi)
		if lastErr == nil {
			return result
		}
		if d.opts.Retryable != nil && !d.opts.Retryable(lastErr) {
			break
		}
		d.logger.Debug("batch write failed, retrying",
			slog.Int("batch", index),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
	}

	result.Err = lastErr
	result.Error = lastErr.Error()
	return result
}
