// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/enzygraph/enzygraph/services/atlas/batch"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
	"github.com/enzygraph/enzygraph/services/atlas/store"
)

var loaderTracer = otel.Tracer("loader.service")

// ServiceConfig configures the ingestion service.
type ServiceConfig struct {
	// BatchSize is the number of proteins per store upsert.
	// Default: batch.DefaultBatchSize.
	BatchSize int

	// Workers bounds concurrent upserts. Default: batch.DefaultWorkers.
	Workers int

	// Retry is the per-batch retry policy.
	Retry batch.RetryPolicy
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BatchSize: batch.DefaultBatchSize,
		Workers:   batch.DefaultWorkers,
		Retry:     batch.DefaultRetryPolicy(),
	}
}

// LoadResult is the outcome of one ingestion run.
type LoadResult struct {
	// Rows is the number of data rows read.
	Rows int `json:"rows"`

	// Skipped counts rows without an accession.
	Skipped int `json:"skipped"`

	// Inserted is the number of proteins written to the store.
	Inserted int `json:"inserted"`

	// Report is the batch write report.
	Report *batch.Report `json:"report,omitempty"`

	// LoadTimeMs is the wall time of the full run.
	LoadTimeMs int64 `json:"load_time_ms"`
}

// AfterLoadFunc runs after a successful ingestion, receiving the
// parsed proteins. Used to mirror entities into secondary systems.
type AfterLoadFunc func(ctx context.Context, proteins []*protein.Protein) error

// Service ingests TSV streams into the entity store.
//
// Thread Safety: safe for concurrent use; all run state is local.
type Service struct {
	store      store.EntityStore
	dispatcher *batch.Dispatcher
	logger     *slog.Logger
	afterLoad  AfterLoadFunc
}

// NewService creates an ingestion service over the given store.
func NewService(config ServiceConfig, st store.EntityStore, logger *slog.Logger) (*Service, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := batch.DefaultOptions()
	if config.BatchSize > 0 {
		opts.BatchSize = config.BatchSize
	}
	if config.Workers > 0 {
		opts.Workers = config.Workers
	}
	if config.Retry != (batch.RetryPolicy{}) {
		opts.Retry = config.Retry
	}
	dispatcher, err := batch.NewDispatcher(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("create batch dispatcher: %w", err)
	}

	return &Service{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "loader_service")),
	}, nil
}

// WithAfterLoad registers a hook that runs after each successful
// ingestion. A hook failure is logged, never fatal: the store write
// already happened.
func (s *Service) WithAfterLoad(fn AfterLoadFunc) *Service {
	s.afterLoad = fn
	return s
}

// Load parses one TSV stream and upserts every parsed protein in
// fixed-size batches.
//
// A batch that exhausts its retries does not abort the run; the
// failure is reported with exact counts and batch.ErrBatchesFailed is
// returned alongside the result.
func (s *Service) Load(ctx context.Context, r io.Reader) (*LoadResult, error) {
	ctx, span := loaderTracer.Start(ctx, "Service.Load")
	defer span.End()

	start := time.Now()

	parsed, err := ParseTSV(r)
	if err != nil {
		return nil, err
	}

	report, err := s.dispatcher.Run(ctx, len(parsed.Proteins), func(ctx context.Context, lo, hi int) error {
		return s.store.PutProteins(ctx, parsed.Proteins[lo:hi])
	})
	if err != nil && !errors.Is(err, batch.ErrBatchesFailed) {
		return nil, fmt.Errorf("upsert proteins: %w", err)
	}

	result := &LoadResult{
		Rows:       parsed.Rows,
		Skipped:    parsed.Skipped,
		Report:     report,
		LoadTimeMs: time.Since(start).Milliseconds(),
	}
	if report != nil {
		result.Inserted = report.ItemsWritten
	}

	if s.afterLoad != nil && len(parsed.Proteins) > 0 {
		if hookErr := s.afterLoad(ctx, parsed.Proteins); hookErr != nil {
			s.logger.Warn("after-load hook failed", slog.Any("error", hookErr))
		}
	}

	s.logger.Info("tsv ingestion complete",
		slog.Int("rows", result.Rows),
		slog.Int("skipped", result.Skipped),
		slog.Int("inserted", result.Inserted),
		slog.Duration("elapsed", time.Since(start)))

	return result, err
}
