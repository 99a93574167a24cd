// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package atlas provides the protein similarity pipeline service.
//
// The pipeline runs in explicit stages over an in-memory snapshot of
// the entity store: build the similarity graph, detect communities,
// analyze them, and propagate EC labels. Each stage produces a result
// object consumed by the next; nothing is computed behind a global
// cache. Derived state (edges, cluster assignments, inferred labels)
// is written back to the store through the batch writer.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/enzygraph/enzygraph/pkg/validation"
	"github.com/enzygraph/enzygraph/services/atlas/batch"
	"github.com/enzygraph/enzygraph/services/atlas/community"
	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
	"github.com/enzygraph/enzygraph/services/atlas/store"
	"github.com/enzygraph/enzygraph/services/atlas/store/weaviate"
	"github.com/enzygraph/enzygraph/services/atlas/telemetry"
)

// ServiceVersion is the atlas service version.
const ServiceVersion = "1.0.0"

var serviceTracer = otel.Tracer("atlas.service")

// ServiceConfig configures the pipeline service.
type ServiceConfig struct {
	// BatchSize for store write-back. Default: batch.DefaultBatchSize.
	BatchSize int

	// Workers for store write-back. Default: batch.DefaultWorkers.
	Workers int

	// Retry policy for store write-back batches.
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

// pipelineState holds the results of the stages run so far. Guarded by
// Service.mu; replaced wholesale on each graph build.
type pipelineState struct {
	snapshot  map[string]*protein.Protein
	index     *protein.DomainIndex
	graph     *graph.SimilarityGraph
	mode      string
	detection *community.DetectionResult
	analysis  *community.Analysis
}

// Service orchestrates the similarity pipeline.
//
// Thread Safety: safe for concurrent use. Stage results are guarded by
// a read-write mutex; a build invalidates all downstream results.
type Service struct {
	config     ServiceConfig
	store      store.EntityStore
	dispatcher *batch.Dispatcher
	logger     *slog.Logger

	// Delegated mode collaborators, optional.
	source      graph.SimilaritySource
	degradation *weaviate.SimilarityDegradation

	metrics *telemetry.Metrics

	mu    sync.RWMutex
	state pipelineState
}

// NewService creates a pipeline service over the given store.
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
		config:     config,
		store:      st,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "atlas_service")),
	}, nil
}

// WithSimilaritySource enables delegated graph builds. The degradation
// handler, when non-nil, routes delegated requests to the exact builder
// while the external engine is unavailable.
func (s *Service) WithSimilaritySource(source graph.SimilaritySource, degradation *weaviate.SimilarityDegradation) *Service {
	s.source = source
	s.degradation = degradation
	return s
}

// WithMetrics attaches pipeline metrics.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// ProteinCount returns the number of stored entities.
func (s *Service) ProteinCount(ctx context.Context) (int, error) {
	return s.store.CountProteins(ctx)
}

// GraphBuilt reports whether a similarity graph is available.
func (s *Service) GraphBuilt() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.graph != nil
}

// BuildGraph snapshots the store, builds the similarity graph with the
// requested builder, and persists the edge set wholesale.
//
// Requesting delegated mode without a configured source is an error.
// A configured but degraded source falls back to the exact builder,
// reported via FellBack in the response.
func (s *Service) BuildGraph(ctx context.Context, req BuildGraphRequest) (*BuildGraphResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "Service.BuildGraph")
	defer span.End()

	opts := graph.DefaultBuilderOptions()
	if req.MinSharedDomains != nil {
		opts.MinSharedDomains = *req.MinSharedDomains
	}
	if req.MinJaccard > 0 {
		opts.MinJaccard = req.MinJaccard
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeExact
	}

	fellBack := false
	if mode == ModeDelegated {
		if s.source == nil {
			return nil, ErrDelegatedUnavailable
		}
		if s.degradation != nil && s.degradation.UseExactFallback() {
			s.logger.Warn("similarity engine degraded, using exact builder")
			mode = ModeExact
			fellBack = true
		}
	}

	var builder graph.Builder
	var err error
	switch mode {
	case ModeDelegated:
		builder, err = graph.NewDelegatedBuilder(s.source, opts, s.logger)
	default:
		builder, err = graph.NewExactBuilder(opts, s.logger)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()

	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	proteins := make([]*protein.Protein, 0, len(snapshot))
	for _, p := range snapshot {
		proteins = append(proteins, p)
	}
	idx := protein.BuildDomainIndex(proteins)

	g, err := builder.Build(ctx, idx)
	if err != nil {
		s.countError(ctx, "graph")
		return nil, err
	}

	if err := s.store.ReplaceEdges(ctx, g.Edges()); err != nil {
		s.countError(ctx, "store")
		return nil, fmt.Errorf("persist edges: %w", err)
	}

	elapsed := time.Since(start)

	s.mu.Lock()
	s.state = pipelineState{
		snapshot: snapshot,
		index:    idx,
		graph:    g,
		mode:     mode,
	}
	s.mu.Unlock()

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("mode", mode))
		s.metrics.GraphBuildsTotal.Add(ctx, 1, attrs)
		s.metrics.GraphBuildDuration.Record(ctx, elapsed.Seconds(), attrs)
		s.metrics.GraphEdgesTotal.Add(ctx, int64(g.EdgeCount()), attrs)
	}

	s.logger.Info("similarity graph built",
		slog.String("mode", mode),
		slog.Int("entities", len(snapshot)),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("elapsed", elapsed))

	return &BuildGraphResponse{
		RunID:       uuid.NewString(),
		Mode:        mode,
		FellBack:    fellBack,
		Entities:    len(snapshot),
		Skipped:     idx.Skipped(),
		Nodes:       g.NodeCount(),
		Edges:       g.EdgeCount(),
		BuildTimeMs: elapsed.Milliseconds(),
	}, nil
}

// GraphStats returns shape statistics for the built graph.
func (s *Service) GraphStats() (GraphStatsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.graph == nil {
		return GraphStatsResponse{}, ErrGraphNotBuilt
	}
	return graphStats(s.state.graph.ComputeStats()), nil
}

// DetectCommunities partitions the built graph and writes the cluster
// assignments back to the store in batches.
func (s *Service) DetectCommunities(ctx context.Context, req DetectRequest) (*DetectResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "Service.DetectCommunities")
	defer span.End()

	s.mu.RLock()
	g := s.state.graph
	snapshot := s.state.snapshot
	s.mu.RUnlock()
	if g == nil {
		return nil, ErrGraphNotBuilt
	}

	opts := community.DefaultDetectorOptions()
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.MinCommunitySize > 0 {
		opts.MinCommunitySize = req.MinCommunitySize
	}
	if req.ConsecutiveIDs != nil {
		opts.ConsecutiveIDs = *req.ConsecutiveIDs
	}

	detector, err := community.NewDetector(opts, s.logger)
	if err != nil {
		return nil, err
	}

	// Entities in the snapshot but absent from the graph become
	// singleton clusters.
	isolated := make([]string, 0)
	for accession := range snapshot {
		if !g.HasNode(accession) {
			isolated = append(isolated, accession)
		}
	}
	sort.Strings(isolated)

	start := time.Now()
	detection, err := detector.Detect(ctx, g, isolated)
	if err != nil {
		s.countError(ctx, "detector")
		return nil, err
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	for accession, id := range detection.Assignments {
		if p, ok := s.state.snapshot[accession]; ok {
			p.SetCluster(id)
		}
	}
	s.state.detection = detection
	s.state.analysis = nil
	s.mu.Unlock()

	report, err := s.writeAssignments(ctx, detection.Assignments)
	if err != nil && !errors.Is(err, batch.ErrBatchesFailed) {
		s.countError(ctx, "store")
		return nil, fmt.Errorf("write cluster assignments: %w", err)
	}
	if err != nil {
		// Failed batches are reported, not fatal.
		s.logger.Warn("cluster write-back partially failed",
			slog.Int("failed_batches", report.Failed),
			slog.Int("items_failed", report.ItemsFailed))
	}

	if s.metrics != nil {
		s.metrics.DetectionsTotal.Add(ctx, 1)
		s.metrics.DetectionDuration.Record(ctx, elapsed.Seconds())
	}

	return &DetectResponse{
		RunID:          uuid.NewString(),
		ClusterCount:   detection.ClusterCount,
		Iterations:     detection.Iterations,
		Converged:      detection.Converged,
		NodeCount:      detection.NodeCount,
		EdgeCount:      detection.EdgeCount,
		SingletonCount: detection.SingletonCount,
		Clusters:       detection.Clusters,
		WriteBack:      report,
		DetectTimeMs:   elapsed.Milliseconds(),
	}, nil
}

// writeAssignments persists cluster assignments through the batch
// writer, fixed-size slices of the sorted accession list per batch.
func (s *Service) writeAssignments(ctx context.Context, assignments map[string]int) (*batch.Report, error) {
	accessions := make([]string, 0, len(assignments))
	for a := range assignments {
		accessions = append(accessions, a)
	}
	sort.Strings(accessions)

	report, err := s.dispatcher.Run(ctx, len(accessions), func(ctx context.Context, start, end int) error {
		chunk := make(map[string]int, end-start)
		for _, a := range accessions[start:end] {
			chunk[a] = assignments[a]
		}
		return s.store.SetClusters(ctx, chunk)
	})
	if report != nil && s.metrics != nil {
		s.metrics.StoreWritesTotal.Add(ctx, int64(report.Succeeded),
			metric.WithAttributes(attribute.String("status", "ok")))
		if report.Failed > 0 {
			s.metrics.StoreWritesTotal.Add(ctx, int64(report.Failed),
				metric.WithAttributes(attribute.String("status", "failed")))
		}
	}
	return report, err
}

// AnalyzeCommunities aggregates per-cluster statistics for the latest
// detection.
func (s *Service) AnalyzeCommunities(ctx context.Context) (*AnalyzeResponse, error) {
	_, span := serviceTracer.Start(ctx, "Service.AnalyzeCommunities")
	defer span.End()

	s.mu.RLock()
	detection := s.state.detection
	snapshot := s.state.snapshot
	s.mu.RUnlock()
	if detection == nil {
		return nil, ErrNoDetection
	}

	analysis := community.NewAnalyzer(s.logger).Analyze(detection, snapshot)

	s.mu.Lock()
	s.state.analysis = analysis
	s.mu.Unlock()

	return &AnalyzeResponse{
		RunID:    uuid.NewString(),
		Analysis: analysis,
	}, nil
}

// ClusterMembers returns the member accessions of one reported cluster.
func (s *Service) ClusterMembers(clusterID int) (*ClusterMembersResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.detection == nil {
		return nil, ErrNoDetection
	}
	c, ok := s.state.detection.Cluster(clusterID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", community.ErrClusterNotFound, clusterID)
	}
	return &ClusterMembersResponse{
		ClusterID: c.ID,
		Size:      len(c.Members),
		Members:   c.Members,
	}, nil
}

// ClusterVocabulary returns the distinct ground-truth EC vocabulary of
// one analyzed cluster.
func (s *Service) ClusterVocabulary(clusterID int) (*ClusterVocabularyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.analysis == nil {
		return nil, ErrNoAnalysis
	}
	stats, ok := s.state.analysis.ClusterStats(clusterID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", community.ErrClusterNotFound, clusterID)
	}
	return &ClusterVocabularyResponse{
		ClusterID:    stats.ClusterID,
		Size:         stats.Size,
		LabeledCount: stats.LabeledCount,
		ECNumbers:    stats.ECNumbers,
	}, nil
}

// PropagateLabels applies one inference policy to the analyzed
// communities and writes the inferred labels back per cluster.
func (s *Service) PropagateLabels(ctx context.Context, req PropagateRequest) (*PropagateResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "Service.PropagateLabels")
	defer span.End()

	threshold := req.Threshold
	if threshold == 0 {
		threshold = community.DefaultThreshold
	}
	policy := community.Policy(req.Policy)

	s.mu.Lock()
	analysis := s.state.analysis
	detection := s.state.detection
	snapshot := s.state.snapshot
	if analysis == nil {
		s.mu.Unlock()
		return nil, ErrNoAnalysis
	}
	result, err := community.NewPropagator(s.logger).Apply(policy, analysis, snapshot, detection, threshold)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	report, err := s.writeInferences(ctx, result.Clusters)
	if err != nil && !errors.Is(err, batch.ErrBatchesFailed) {
		s.countError(ctx, "store")
		return nil, fmt.Errorf("write inferred labels: %w", err)
	}
	if err != nil {
		s.logger.Warn("label write-back partially failed",
			slog.Int("failed_batches", report.Failed))
	}

	if s.metrics != nil {
		s.metrics.PropagationsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("policy", string(policy))))
		s.metrics.EntitiesLabeledTotal.Add(ctx, int64(result.EntitiesLabeled))
	}

	return &PropagateResponse{
		RunID:     uuid.NewString(),
		Result:    result,
		WriteBack: report,
	}, nil
}

// writeInferences persists per-cluster inferred label sets through the
// batch writer, a fixed-size slice of clusters per batch.
func (s *Service) writeInferences(ctx context.Context, clusters []community.ClusterInference) (*batch.Report, error) {
	return s.dispatcher.Run(ctx, len(clusters), func(ctx context.Context, start, end int) error {
		for _, c := range clusters[start:end] {
			if _, err := s.store.SetInferredLabels(ctx, c.ClusterID, c.Labels); err != nil {
				return fmt.Errorf("cluster %d: %w", c.ClusterID, err)
			}
		}
		return nil
	})
}

// ComparePolicies computes both inference policies side by side without
// mutating any entity.
func (s *Service) ComparePolicies(ctx context.Context, req CompareRequest) (*CompareResponse, error) {
	_, span := serviceTracer.Start(ctx, "Service.ComparePolicies")
	defer span.End()

	threshold := req.Threshold
	if threshold == 0 {
		threshold = community.DefaultThreshold
	}

	s.mu.RLock()
	analysis := s.state.analysis
	detection := s.state.detection
	snapshot := s.state.snapshot
	s.mu.RUnlock()
	if analysis == nil {
		return nil, ErrNoAnalysis
	}

	result, err := community.NewPropagator(s.logger).Compare(analysis, snapshot, detection, threshold)
	if err != nil {
		return nil, err
	}
	return &CompareResponse{
		RunID:  uuid.NewString(),
		Result: result,
	}, nil
}

// OverrideClusterLabels assigns an explicit label set to every
// unlabeled member of one cluster and persists it.
func (s *Service) OverrideClusterLabels(ctx context.Context, clusterID int, labels []string) (*PropagateResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "Service.OverrideClusterLabels")
	defer span.End()

	if err := validation.ValidateECNumbers(labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLabels, err)
	}

	s.mu.Lock()
	detection := s.state.detection
	snapshot := s.state.snapshot
	if detection == nil {
		s.mu.Unlock()
		return nil, ErrNoDetection
	}
	result, err := community.NewPropagator(s.logger).ApplyManual(clusterID, labels, snapshot, detection)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	report, err := s.writeInferences(ctx, result.Clusters)
	if err != nil && !errors.Is(err, batch.ErrBatchesFailed) {
		return nil, fmt.Errorf("write inferred labels: %w", err)
	}

	return &PropagateResponse{
		RunID:     uuid.NewString(),
		Result:    result,
		WriteBack: report,
	}, nil
}

// RunPipeline chains build, detect, analyze, and optionally propagate,
// reporting per-stage wall times.
func (s *Service) RunPipeline(ctx context.Context, req PipelineRequest) (*PipelineResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "Service.RunPipeline")
	defer span.End()

	resp := &PipelineResponse{RunID: uuid.NewString()}

	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		resp.Timings = append(resp.Timings, StageTiming{
			Stage:      name,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return err
	}

	if err := stage("graph", func() error {
		r, err := s.BuildGraph(ctx, req.Graph)
		resp.Graph = r
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage("detect", func() error {
		r, err := s.DetectCommunities(ctx, req.Detect)
		resp.Detect = r
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage("analyze", func() error {
		r, err := s.AnalyzeCommunities(ctx)
		if err == nil {
			resp.Summary = r.Analysis.Summary
		}
		return err
	}); err != nil {
		return nil, err
	}

	if req.Propagate.Policy != "" {
		if err := stage("propagate", func() error {
			r, err := s.PropagateLabels(ctx, req.Propagate)
			if err == nil {
				resp.Propagate = r.Result
			}
			return err
		}); err != nil {
			return nil, err
		}
	}

	s.logger.Info("pipeline run complete",
		slog.String("run_id", resp.RunID),
		slog.Int("stages", len(resp.Timings)))
	return resp, nil
}

func (s *Service) countError(ctx context.Context, component string) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("component", component)))
	}
}
