// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

var builderTracer = otel.Tracer("atlas.graph")

// Builder produces the similarity edge set from a domain index.
//
// Both implementations satisfy the same contract: symmetric weights,
// no self-loops, idempotent rebuilds on unchanged input (weights equal
// within WeightTolerance, shared/union exactly equal).
type Builder interface {
	Build(ctx context.Context, idx *protein.DomainIndex) (*SimilarityGraph, error)
}

// ExactBuilder computes pairwise Jaccard similarity in-process.
//
// For each domain it enumerates all pairs of proteins sharing it and
// accumulates a sparse shared-count map over only co-occurring pairs;
// the full entity cross product is never iterated.
type ExactBuilder struct {
	opts   BuilderOptions
	logger *slog.Logger
}

// NewExactBuilder creates an exact in-process builder.
// Options are validated eagerly; invalid thresholds are rejected.
func NewExactBuilder(opts BuilderOptions, logger *slog.Logger) (*ExactBuilder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactBuilder{opts: opts, logger: logger}, nil
}

// Build produces the edge set for the indexed proteins.
//
// Description:
//
//	Accumulates shared-domain counts per co-occurring pair, then for
//	each pair computes union = |A|+|B|-shared and weight = shared/union.
//	An edge is emitted iff shared >= MinSharedDomains AND
//	weight >= MinJaccard. An empty collection yields zero edges, which
//	is a valid degenerate result, not an error.
//
// Inputs:
//
//   - ctx: Context for cancellation. Checked at domain boundaries.
//   - idx: The inverted domain index. Must not be nil.
//
// Outputs:
//
//   - *SimilarityGraph: The edge set, sorted by pair for determinism.
//   - error: Non-nil if cancelled or the index is nil.
//
// Complexity: O(sum over domains of |members|^2) for the pair
// enumeration; sparse in practice because posting lists are short.
func (b *ExactBuilder) Build(ctx context.Context, idx *protein.DomainIndex) (*SimilarityGraph, error) {
	if idx == nil {
		return nil, ErrNilIndex
	}

	ctx, span := builderTracer.Start(ctx, "ExactBuilder.Build",
		trace.WithAttributes(
			attribute.Int("entity_count", idx.EntityCount()),
			attribute.Int("domain_count", idx.DomainCount()),
			attribute.Int("min_shared_domains", b.opts.MinSharedDomains),
			attribute.Float64("min_jaccard", b.opts.MinJaccard),
		),
	)
	defer span.End()

	start := time.Now()

	// Sparse shared counters over co-occurring pairs only.
	type pair struct{ a, b string }
	shared := make(map[pair]int)

	for _, domain := range idx.Domains() {
		if ctx.Err() != nil {
			span.AddEvent("cancelled")
			return nil, ErrBuildCancelled
		}
		members := idx.Members(domain)
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				// Members are sorted, so the pair is already normalized.
				shared[pair{members[i], members[j]}]++
			}
		}
	}

	edges := make([]Edge, 0, len(shared))
	for p, s := range shared {
		if s < b.opts.MinSharedDomains {
			continue
		}
		degA, okA := idx.Degree(p.a)
		degB, okB := idx.Degree(p.b)
		if !okA || !okB {
			continue
		}
		union := degA + degB - s
		if union <= 0 {
			continue
		}
		weight := float64(s) / float64(union)
		if weight < b.opts.MinJaccard {
			continue
		}
		edges = append(edges, Edge{
			A:      p.a,
			B:      p.b,
			Weight: weight,
			Shared: s,
			Union:  union,
		})
	}

	g := newSimilarityGraph(edges)

	b.logger.Debug("exact similarity build completed",
		slog.Int("entities", idx.EntityCount()),
		slog.Int("candidate_pairs", len(shared)),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("elapsed", time.Since(start)),
	)
	span.SetAttributes(
		attribute.Int("candidate_pairs", len(shared)),
		attribute.Int("edges_emitted", g.EdgeCount()),
		attribute.String("method", "exact"),
	)

	return g, nil
}
