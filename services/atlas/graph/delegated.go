// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// SimilarityPair is one (a, b, weight) tuple reported by an external
// pairwise-similarity primitive.
type SimilarityPair struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Weight float64 `json:"weight"`
}

// SimilaritySource is the capability abstraction over an external
// graph-analytics engine. It returns all pairs whose similarity is at
// least cutoff; it does not report shared or union counts.
type SimilaritySource interface {
	PairwiseSimilarities(ctx context.Context, cutoff float64) ([]SimilarityPair, error)
}

// DelegatedBuilder consumes an external similarity primitive and
// recovers the set-overlap statistics from the reported weight.
//
// Given per-protein domain cardinalities A and B, solving
// weight = shared/((A+B)-shared) for shared gives the closed form
//
//	shared = round(weight * (A+B) / (1+weight))
//	union  = A + B - shared
//
// The recovery is exact when the upstream score has sufficient
// precision; shared and union derived this way are treated as
// approximate with a tolerance of ±1 on shared.
type DelegatedBuilder struct {
	source SimilaritySource
	opts   BuilderOptions
	logger *slog.Logger
}

// NewDelegatedBuilder creates a builder backed by an external
// similarity primitive. Options are validated eagerly.
func NewDelegatedBuilder(source SimilaritySource, opts BuilderOptions, logger *slog.Logger) (*DelegatedBuilder, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DelegatedBuilder{source: source, opts: opts, logger: logger}, nil
}

// RecoverOverlap recovers (shared, union) from a similarity weight and
// the two domain-set cardinalities. Exported so the equivalence of the
// two builders can be verified against synthetic graphs.
func RecoverOverlap(weight float64, degreeA, degreeB int) (shared, union int) {
	shared = int(math.Round(weight * float64(degreeA+degreeB) / (1 + weight)))
	union = degreeA + degreeB - shared
	return shared, union
}

// Build materializes the edge set from the external primitive.
//
// Description:
//
//	The source filters by weight >= MinJaccard at computation time; the
//	shared-domain floor cannot be applied before the edge exists, so it
//	is applied here as a post-filter on the recovered shared count.
//	Duplicate orientations of the same unordered pair are collapsed;
//	the weights of the two orientations must agree, so either is taken.
//
// Outputs:
//
//   - *SimilarityGraph: Edge set with recovered shared/union.
//   - error: Non-nil on source failure, cancellation, or a pair whose
//     accession has no recorded degree in the index.
func (b *DelegatedBuilder) Build(ctx context.Context, idx *protein.DomainIndex) (*SimilarityGraph, error) {
	if idx == nil {
		return nil, ErrNilIndex
	}

	ctx, span := builderTracer.Start(ctx, "DelegatedBuilder.Build",
		trace.WithAttributes(
			attribute.Int("entity_count", idx.EntityCount()),
			attribute.Float64("cutoff", b.opts.MinJaccard),
		),
	)
	defer span.End()

	start := time.Now()

	pairs, err := b.source.PairwiseSimilarities(ctx, b.opts.MinJaccard)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("delegated similarity query: %w", err)
	}

	seen := make(map[[2]string]bool, len(pairs))
	edges := make([]Edge, 0, len(pairs))

	for _, p := range pairs {
		if ctx.Err() != nil {
			span.AddEvent("cancelled")
			return nil, ErrBuildCancelled
		}
		if p.A == p.B {
			continue // self-loops are forbidden
		}
		if p.Weight < b.opts.MinJaccard {
			continue
		}
		a, bb := NormalizePair(p.A, p.B)
		key := [2]string{a, bb}
		if seen[key] {
			continue
		}
		seen[key] = true

		degA, okA := idx.Degree(a)
		degB, okB := idx.Degree(bb)
		if !okA || !okB {
			return nil, fmt.Errorf("%w: pair (%s, %s)", ErrUnknownDegree, a, bb)
		}

		shared, union := RecoverOverlap(p.Weight, degA, degB)
		if shared < b.opts.MinSharedDomains {
			continue
		}
		if union <= 0 {
			continue
		}
		edges = append(edges, Edge{
			A:      a,
			B:      bb,
			Weight: p.Weight,
			Shared: shared,
			Union:  union,
		})
	}

	g := newSimilarityGraph(edges)

	b.logger.Debug("delegated similarity build completed",
		slog.Int("pairs_reported", len(pairs)),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("elapsed", time.Since(start)),
	)
	span.SetAttributes(
		attribute.Int("pairs_reported", len(pairs)),
		attribute.Int("edges_emitted", g.EdgeCount()),
		attribute.String("method", "delegated"),
	)

	return g, nil
}
