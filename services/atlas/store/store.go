// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// EntityStore is the persistence contract consumed by the pipeline.
//
// Implementations must be safe for concurrent use. Returned entities
// are copies; mutating them does not affect stored state until they
// are written back.
type EntityStore interface {
	// PutProteins bulk-upserts entities. Existing entries with the
	// same accession are fully replaced.
	PutProteins(ctx context.Context, proteins []*protein.Protein) error

	// GetProtein returns one entity, or ErrNotFound.
	GetProtein(ctx context.Context, accession string) (*protein.Protein, error)

	// Snapshot returns a deep copy of every entity keyed by accession.
	// Pipeline runs operate on this snapshot, never on live state.
	Snapshot(ctx context.Context) (map[string]*protein.Protein, error)

	// CountProteins returns the number of stored entities.
	CountProteins(ctx context.Context) (int, error)

	// ReplaceEdges replaces the stored similarity edge set wholesale.
	// Edges are derived data, recomputed on each builder run.
	ReplaceEdges(ctx context.Context, edges []graph.Edge) error

	// Edges returns all stored similarity edges.
	Edges(ctx context.Context) ([]graph.Edge, error)

	// SetClusters writes cluster assignments to the named entities.
	// Assignments for unknown accessions are skipped, not errors.
	SetClusters(ctx context.Context, assignments map[string]int) error

	// SetInferredLabels writes the inferred label set to every
	// unlabeled entity in the given cluster and returns how many
	// entities were updated. Entities with ground truth are never
	// touched.
	SetInferredLabels(ctx context.Context, clusterID int, labels []string) (int, error)

	// Close releases resources.
	Close() error
}
