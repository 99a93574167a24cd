// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph builds the weighted protein similarity network.
//
// Nodes are protein accessions; an undirected edge connects two proteins
// whose domain sets overlap above configured thresholds. Edge weight is
// the Jaccard coefficient over the deduplicated domain sets.
//
// Two interchangeable builders satisfy the same edge-set contract:
//
//   - ExactBuilder enumerates co-occurring pairs through the inverted
//     domain index and computes shared/union/weight directly.
//   - DelegatedBuilder consumes (a, b, weight) tuples from an external
//     pairwise-similarity primitive and recovers shared/union from the
//     per-protein degrees using a closed-form identity.
//
// # Thread Safety
//
// SimilarityGraph is built single-writer, then read-only. After Build()
// returns, the graph can be safely read from multiple goroutines.
package graph

import "errors"

// Sentinel errors for graph construction.
var (
	// ErrInvalidMinJaccard is returned when the Jaccard cutoff is
	// outside (0, 1]. Invalid values are rejected, never clamped.
	ErrInvalidMinJaccard = errors.New("min jaccard must be in (0, 1]")

	// ErrInvalidMinShared is returned when the shared-domain floor
	// is negative.
	ErrInvalidMinShared = errors.New("min shared domains must be >= 0")

	// ErrNilIndex is returned when a builder is invoked without a
	// domain index.
	ErrNilIndex = errors.New("domain index is nil")

	// ErrNilSource is returned when the delegated builder has no
	// similarity source configured.
	ErrNilSource = errors.New("similarity source is nil")

	// ErrUnknownDegree is returned by the delegated builder when the
	// similarity source reports a pair involving an accession the
	// domain index has no degree for.
	ErrUnknownDegree = errors.New("accession has no recorded domain degree")

	// ErrBuildCancelled is returned when a build operation is cancelled
	// via context.
	ErrBuildCancelled = errors.New("build cancelled")
)
