// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
)

var detectorTracer = otel.Tracer("atlas.community")

// Detector configuration constants.
const (
	// DefaultMaxIterations caps the label propagation passes.
	DefaultMaxIterations = 10

	// DefaultMinCommunitySize filters tiny clusters from reporting.
	// Filtering never changes edges or assignments, only which
	// clusters appear downstream.
	DefaultMinCommunitySize = 2

	// parallelNodeThreshold is the minimum node count to fan the
	// per-node recomputation out over workers.
	parallelNodeThreshold = 1000

	// maxDetectorWorkers caps the goroutines for one iteration.
	maxDetectorWorkers = 8
)

// DetectorOptions configures weighted label propagation.
type DetectorOptions struct {
	// MaxIterations limits propagation passes. Must be >= 1. Default: 10
	MaxIterations int

	// MinCommunitySize filters reported clusters. Must be >= 1. Default: 2
	MinCommunitySize int

	// ConsecutiveIDs renumbers cluster ids to a consecutive range
	// starting at 0, ordered by each cluster's smallest member
	// accession for stability across re-runs.
	ConsecutiveIDs bool
}

// DefaultDetectorOptions returns the standard configuration.
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		MaxIterations:    DefaultMaxIterations,
		MinCommunitySize: DefaultMinCommunitySize,
	}
}

// Validate rejects out-of-range values. Values are never clamped.
func (o DetectorOptions) Validate() error {
	if o.MaxIterations < 1 {
		return ErrInvalidMaxIterations
	}
	if o.MinCommunitySize < 1 {
		return ErrInvalidMinCommunitySize
	}
	return nil
}

// Cluster is one detected community.
type Cluster struct {
	// ID is the cluster identifier. Consecutive from 0 when
	// renumbering is enabled.
	ID int `json:"id"`

	// Members are the member accessions, sorted.
	Members []string `json:"members"`
}

// DetectionResult is the full detector output.
type DetectionResult struct {
	// Assignments maps every participating accession to its cluster id,
	// including members of clusters below the reporting filter.
	Assignments map[string]int `json:"assignments"`

	// Clusters are the reported clusters (size >= MinCommunitySize),
	// sorted by id.
	Clusters []Cluster `json:"clusters"`

	// ClusterCount is the number of reported clusters.
	ClusterCount int `json:"cluster_count"`

	// Iterations is the number of propagation passes run.
	Iterations int `json:"iterations"`

	// Converged is true if a full pass produced zero label changes
	// within MaxIterations. Non-convergence is not an error.
	Converged bool `json:"converged"`

	// NodeCount is the number of graph nodes that propagated.
	NodeCount int `json:"node_count"`

	// EdgeCount is the number of edges in the input graph.
	EdgeCount int `json:"edge_count"`

	// SingletonCount is the number of isolated entities materialized
	// as singleton clusters.
	SingletonCount int `json:"singleton_count"`
}

// Cluster returns the reported cluster with the given id.
func (r *DetectionResult) Cluster(id int) (Cluster, bool) {
	for _, c := range r.Clusters {
		if c.ID == id {
			return c, true
		}
	}
	return Cluster{}, false
}

// Detector runs weighted label propagation over a similarity graph.
//
// Thread Safety: safe for concurrent use; all run state is local to
// Detect.
type Detector struct {
	opts   DetectorOptions
	logger *slog.Logger
}

// NewDetector creates a detector. Options are validated eagerly.
func NewDetector(opts DetectorOptions, logger *slog.Logger) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{opts: opts, logger: logger}, nil
}

// Detect partitions the graph into communities.
//
// Description:
//
//	Every node starts as its own community. Each pass visits nodes in
//	ascending accession order; a node adopts the cluster id with the
//	largest summed incident edge weight among its neighbors, ties
//	broken by the smallest numeric cluster id. The pass recomputation
//	is synchronous: all nodes read the previous pass's labels, so the
//	per-node work can fan out over workers without cross-mutation.
//	The loop stops after MaxIterations or when a pass produces zero
//	changes.
//
//	Accessions listed in isolated (entities with no incident edges)
//	are materialized as singleton clusters after propagation. The
//	reporting filter MinCommunitySize drops small clusters from
//	Clusters but never from Assignments.
//
// Inputs:
//
//   - ctx: Context for cancellation, checked at iteration boundaries.
//   - g: The similarity graph. Must not be nil.
//   - isolated: Accessions with no incident edges that still belong to
//     the run's entity snapshot. May be empty.
//
// Outputs:
//
//   - *DetectionResult: Assignments, reported clusters, and summary.
//   - error: Non-nil only on nil graph or cancellation.
//
// Complexity: O(V + E) per iteration.
func (d *Detector) Detect(ctx context.Context, g *graph.SimilarityGraph, isolated []string) (*DetectionResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}

	nodeCount := g.NodeCount()
	edgeCount := g.EdgeCount()

	ctx, span := detectorTracer.Start(ctx, "Detector.Detect",
		trace.WithAttributes(
			attribute.Int("node_count", nodeCount),
			attribute.Int("edge_count", edgeCount),
			attribute.Int("max_iterations", d.opts.MaxIterations),
			attribute.Int("min_community_size", d.opts.MinCommunitySize),
		),
	)
	defer span.End()

	start := time.Now()

	// Deterministic visiting order: ascending accession.
	nodes := g.Nodes()
	ordinal := make(map[string]int, len(nodes))
	for i, id := range nodes {
		ordinal[id] = i
	}

	// Pre-resolve neighbor lists into ordinals once.
	type weightedNeighbor struct {
		ord    int
		weight float64
	}
	neighbors := make([][]weightedNeighbor, len(nodes))
	selfWeight := make([]float64, len(nodes))
	for i, id := range nodes {
		incident := g.Incident(id)
		list := make([]weightedNeighbor, 0, len(incident))
		for _, e := range incident {
			list = append(list, weightedNeighbor{ord: ordinal[e.Other(id)], weight: e.Weight})
			if e.Weight > selfWeight[i] {
				selfWeight[i] = e.Weight
			}
		}
		neighbors[i] = list
	}

	// Each node starts as its own community.
	labels := make([]int, len(nodes))
	for i := range labels {
		labels[i] = i
	}

	// relabel computes one node's next label from the previous pass.
	// The node votes for its own current label with the weight of its
	// strongest edge; without this damping term, simultaneous updates
	// oscillate forever on two-node components.
	relabel := func(i int) int {
		if len(neighbors[i]) == 0 {
			return labels[i]
		}
		sums := make(map[int]float64, len(neighbors[i])+1)
		sums[labels[i]] = selfWeight[i]
		for _, n := range neighbors[i] {
			sums[labels[n.ord]] += n.weight
		}
		best := labels[i]
		bestSum := -1.0
		for label, sum := range sums {
			if sum > bestSum || (sum == bestSum && label < best) {
				best = label
				bestSum = sum
			}
		}
		return best
	}

	iterations := 0
	converged := false
	next := make([]int, len(nodes))

	for iterations < d.opts.MaxIterations {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(
				attribute.Int("iterations_completed", iterations),
			))
			return nil, ErrDetectionCancelled
		}
		iterations++

		if len(nodes) >= parallelNodeThreshold {
			d.relabelParallel(ctx, next, relabel, len(nodes))
		} else {
			for i := range nodes {
				next[i] = relabel(i)
			}
		}

		changes := 0
		for i := range nodes {
			if next[i] != labels[i] {
				changes++
			}
		}
		labels, next = next, labels

		if changes == 0 {
			converged = true
			break
		}
	}

	// Assemble assignments; isolated entities become fresh singletons.
	assignments := make(map[string]int, len(nodes)+len(isolated))
	for i, id := range nodes {
		assignments[id] = labels[i]
	}
	nextID := len(nodes)
	singletons := 0
	sortedIsolated := append([]string(nil), isolated...)
	sort.Strings(sortedIsolated)
	for _, id := range sortedIsolated {
		if id == "" {
			continue
		}
		if _, inGraph := assignments[id]; inGraph {
			continue
		}
		assignments[id] = nextID
		nextID++
		singletons++
	}

	if d.opts.ConsecutiveIDs {
		assignments = renumberConsecutive(assignments)
	}

	result := d.assembleResult(assignments)
	result.Iterations = iterations
	result.Converged = converged
	result.NodeCount = nodeCount
	result.EdgeCount = edgeCount
	result.SingletonCount = singletons

	d.logger.Debug("community detection completed",
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Int("clusters", result.ClusterCount),
		slog.Int("singletons", singletons),
		slog.Int("node_count", nodeCount),
		slog.Int("edge_count", edgeCount),
		slog.Duration("elapsed", time.Since(start)),
	)
	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
		attribute.Int("clusters_found", result.ClusterCount),
		attribute.String("algorithm", "weighted_label_propagation"),
	)

	return result, nil
}

// relabelParallel fans the per-node recomputation out over workers.
// All workers read the previous pass's labels and write disjoint
// chunks of next, so no synchronization is needed beyond the join.
func (d *Detector) relabelParallel(ctx context.Context, next []int, relabel func(int) int, n int) {
	workers := runtime.NumCPU()
	if workers > maxDetectorWorkers {
		workers = maxDetectorWorkers
	}
	chunk := (n + workers - 1) / workers

	eg, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo >= n {
			break
		}
		if hi > n {
			hi = n
		}
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				next[i] = relabel(i)
			}
			return nil
		})
	}
	_ = eg.Wait() // workers never error; cancellation is handled at the iteration boundary
}

// renumberConsecutive maps cluster ids to a consecutive range starting
// at 0, ordered by each cluster's smallest member accession. The order
// is stable across re-runs on unchanged input.
func renumberConsecutive(assignments map[string]int) map[string]int {
	minMember := make(map[int]string)
	for acc, id := range assignments {
		if cur, ok := minMember[id]; !ok || acc < cur {
			minMember[id] = acc
		}
	}

	oldIDs := make([]int, 0, len(minMember))
	for id := range minMember {
		oldIDs = append(oldIDs, id)
	}
	sort.Slice(oldIDs, func(i, j int) bool {
		return minMember[oldIDs[i]] < minMember[oldIDs[j]]
	})

	remap := make(map[int]int, len(oldIDs))
	for newID, oldID := range oldIDs {
		remap[oldID] = newID
	}

	out := make(map[string]int, len(assignments))
	for acc, id := range assignments {
		out[acc] = remap[id]
	}
	return out
}

// assembleResult groups assignments into reported clusters.
func (d *Detector) assembleResult(assignments map[string]int) *DetectionResult {
	members := make(map[int][]string)
	for acc, id := range assignments {
		members[id] = append(members[id], acc)
	}

	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	clusters := make([]Cluster, 0, len(ids))
	for _, id := range ids {
		m := members[id]
		if len(m) < d.opts.MinCommunitySize {
			continue
		}
		sort.Strings(m)
		clusters = append(clusters, Cluster{ID: id, Members: m})
	}

	return &DetectionResult{
		Assignments:  assignments,
		Clusters:     clusters,
		ClusterCount: len(clusters),
	}
}
