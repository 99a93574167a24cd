// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined metrics for the atlas service.
// All metrics use the "atlas_" prefix.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// GraphBuildsTotal counts graph builds by mode and status.
	GraphBuildsTotal metric.Int64Counter

	// GraphBuildDuration records graph build duration in seconds.
	GraphBuildDuration metric.Float64Histogram

	// GraphEdgesTotal counts edges produced by graph builds.
	GraphEdgesTotal metric.Int64Counter

	// DetectionsTotal counts community detection runs by status.
	DetectionsTotal metric.Int64Counter

	// DetectionDuration records detection duration in seconds.
	DetectionDuration metric.Float64Histogram

	// PropagationsTotal counts label propagation runs by policy and status.
	PropagationsTotal metric.Int64Counter

	// EntitiesLabeledTotal counts entities labeled by propagation.
	EntitiesLabeledTotal metric.Int64Counter

	// StoreWritesTotal counts store write batches by status.
	StoreWritesTotal metric.Int64Counter

	// WeaviateCircuitState tracks circuit state (0=connected, 1=degraded,
	// 2=circuit_open, 3=half_open).
	WeaviateCircuitState metric.Int64ObservableGauge

	// ErrorsTotal counts errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all atlas metrics with the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"atlas_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"atlas_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"atlas_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.GraphBuildsTotal, err = meter.Int64Counter(
		"atlas_graph_builds_total",
		metric.WithDescription("Total similarity graph builds"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_builds_total: %w", err)
	}

	m.GraphBuildDuration, err = meter.Float64Histogram(
		"atlas_graph_build_duration_seconds",
		metric.WithDescription("Similarity graph build duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_build_duration: %w", err)
	}

	m.GraphEdgesTotal, err = meter.Int64Counter(
		"atlas_graph_edges_total",
		metric.WithDescription("Total edges produced by graph builds"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create graph_edges_total: %w", err)
	}

	m.DetectionsTotal, err = meter.Int64Counter(
		"atlas_detections_total",
		metric.WithDescription("Total community detection runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create detections_total: %w", err)
	}

	m.DetectionDuration, err = meter.Float64Histogram(
		"atlas_detection_duration_seconds",
		metric.WithDescription("Community detection duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create detection_duration: %w", err)
	}

	m.PropagationsTotal, err = meter.Int64Counter(
		"atlas_propagations_total",
		metric.WithDescription("Total label propagation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create propagations_total: %w", err)
	}

	m.EntitiesLabeledTotal, err = meter.Int64Counter(
		"atlas_entities_labeled_total",
		metric.WithDescription("Total entities labeled by propagation"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create entities_labeled_total: %w", err)
	}

	m.StoreWritesTotal, err = meter.Int64Counter(
		"atlas_store_writes_total",
		metric.WithDescription("Total store write batches"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store_writes_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"atlas_errors_total",
		metric.WithDescription("Total errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterWeaviateCircuitState registers an observable gauge reporting
// the resilient client's connection state at scrape time.
func (m *Metrics) RegisterWeaviateCircuitState(meter metric.Meter, stateFunc func() int64) (metric.Registration, error) {
	var err error
	m.WeaviateCircuitState, err = meter.Int64ObservableGauge(
		"atlas_weaviate_circuit_state",
		metric.WithDescription("Weaviate connection state (0=connected, 1=degraded, 2=circuit_open, 3=half_open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create weaviate_circuit_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.WeaviateCircuitState, stateFunc())
		return nil
	}, m.WeaviateCircuitState)
}

// GinMiddleware records request count, duration, and active requests
// for every route. Tracing is handled separately by otelgin.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		m.HTTPActiveRequests.Add(ctx, 1)
		defer m.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.Int("status", c.Writer.Status()),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
