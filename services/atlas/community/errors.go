// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package community partitions the similarity graph and infers EC
// numbers for unlabeled proteins.
//
// Three stages live here, each a pure transformation of its
// predecessor's output:
//
//   - Detector: weighted label propagation over the similarity graph.
//   - Analyzer: per-cluster aggregate statistics.
//   - Propagator: label inference under two competing policies, plus a
//     non-committing comparison mode.
//
// Results are explicit objects passed between stages by the caller;
// there is no process-wide mutable state.
package community

import "errors"

// Sentinel errors for community operations.
var (
	// ErrInvalidMaxIterations is returned when the iteration cap is < 1.
	ErrInvalidMaxIterations = errors.New("max iterations must be >= 1")

	// ErrInvalidMinCommunitySize is returned when the reporting filter
	// is < 1.
	ErrInvalidMinCommunitySize = errors.New("min community size must be >= 1")

	// ErrInvalidThreshold is returned when the weighted propagation
	// threshold is outside (0, 1]. Zero is rejected eagerly: it would
	// qualify every label ever seen.
	ErrInvalidThreshold = errors.New("propagation threshold must be in (0, 1]")

	// ErrNilGraph is returned when detection is invoked without a graph.
	ErrNilGraph = errors.New("similarity graph is nil")

	// ErrNoAnalysis is returned when propagation or comparison is
	// attempted before analysis has produced cluster statistics.
	ErrNoAnalysis = errors.New("no analysis available: run community detection and analysis first")

	// ErrClusterNotFound is returned when an operation names a cluster
	// id that the analysis does not contain.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrUnknownPolicy is returned for an unrecognized propagation policy.
	ErrUnknownPolicy = errors.New("unknown propagation policy")

	// ErrDetectionCancelled is returned when detection is cancelled via
	// context at an iteration boundary.
	ErrDetectionCancelled = errors.New("community detection cancelled")
)
