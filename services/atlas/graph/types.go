// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"sort"
)

// Default threshold values.
const (
	// DefaultMinSharedDomains is the minimum co-occurring domain count
	// for an edge to be emitted.
	DefaultMinSharedDomains = 2

	// DefaultMinJaccard is the minimum Jaccard weight for an edge to
	// be emitted.
	DefaultMinJaccard = 0.1

	// WeightTolerance is the float equality tolerance for comparing
	// edge weights across rebuilds.
	WeightTolerance = 1e-9
)

// Edge is an undirected weighted similarity edge between two proteins.
//
// The pair is normalized so A < B lexicographically; there is exactly one
// record per unordered pair and self-loops are forbidden. Invariant:
// Weight = Shared/Union within floating point tolerance.
type Edge struct {
	// A is the lexicographically smaller accession.
	A string `json:"a"`

	// B is the lexicographically larger accession.
	B string `json:"b"`

	// Weight is the Jaccard coefficient over the two domain sets, in (0, 1].
	Weight float64 `json:"weight"`

	// Shared is the co-occurring domain count.
	Shared int `json:"shared"`

	// Union is the domain-set union cardinality, >= 1.
	Union int `json:"union"`
}

// Other returns the edge endpoint that is not the given accession.
// Returns "" if the accession is not an endpoint.
func (e *Edge) Other(accession string) string {
	switch accession {
	case e.A:
		return e.B
	case e.B:
		return e.A
	default:
		return ""
	}
}

// NormalizePair orders two accessions so the first return is the
// lexicographically smaller one.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// BuilderOptions configures edge emission thresholds.
type BuilderOptions struct {
	// MinSharedDomains is the minimum co-occurring domain count.
	// Must be >= 0. Default: 2
	MinSharedDomains int

	// MinJaccard is the minimum edge weight. Must be in (0, 1].
	// Default: 0.1
	MinJaccard float64
}

// DefaultBuilderOptions returns the standard thresholds.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		MinSharedDomains: DefaultMinSharedDomains,
		MinJaccard:       DefaultMinJaccard,
	}
}

// Validate rejects out-of-range thresholds. Values are never clamped.
func (o BuilderOptions) Validate() error {
	if o.MinSharedDomains < 0 {
		return ErrInvalidMinShared
	}
	if o.MinJaccard <= 0 || o.MinJaccard > 1 {
		return ErrInvalidMinJaccard
	}
	return nil
}

// SimilarityGraph is the weighted undirected similarity network.
//
// Thread Safety: built single-writer by a Builder, read-only afterwards.
type SimilarityGraph struct {
	// edges holds one record per unordered pair, sorted by (A, B).
	edges []Edge

	// adjacency maps accession to indices into edges.
	adjacency map[string][]int
}

// newSimilarityGraph assembles a graph from an edge set. Edges are
// sorted by (A, B) for deterministic, byte-stable output across rebuilds.
func newSimilarityGraph(edges []Edge) *SimilarityGraph {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})

	adjacency := make(map[string][]int)
	for i, e := range edges {
		adjacency[e.A] = append(adjacency[e.A], i)
		adjacency[e.B] = append(adjacency[e.B], i)
	}

	return &SimilarityGraph{edges: edges, adjacency: adjacency}
}

// NewFromEdges assembles a graph from an externally produced edge set,
// normalizing pair order and dropping self-loops. Used when rehydrating
// a persisted edge set from the store.
func NewFromEdges(edges []Edge) *SimilarityGraph {
	clean := make([]Edge, 0, len(edges))
	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		a, b := NormalizePair(e.A, e.B)
		key := [2]string{a, b}
		if seen[key] {
			continue
		}
		seen[key] = true
		e.A, e.B = a, b
		clean = append(clean, e)
	}
	return newSimilarityGraph(clean)
}

// Edges returns all edges sorted by (A, B).
// The returned slice must not be modified.
func (g *SimilarityGraph) Edges() []Edge {
	return g.edges
}

// EdgeCount returns the number of edges.
func (g *SimilarityGraph) EdgeCount() int {
	return len(g.edges)
}

// NodeCount returns the number of accessions with at least one edge.
func (g *SimilarityGraph) NodeCount() int {
	return len(g.adjacency)
}

// HasNode reports whether an accession participates in any edge.
func (g *SimilarityGraph) HasNode(accession string) bool {
	_, ok := g.adjacency[accession]
	return ok
}

// Nodes returns all accessions with at least one edge, sorted.
func (g *SimilarityGraph) Nodes() []string {
	out := make([]string, 0, len(g.adjacency))
	for a := range g.adjacency {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Incident returns the edges touching an accession.
// The returned edges must not be modified.
func (g *SimilarityGraph) Incident(accession string) []*Edge {
	idxs := g.adjacency[accession]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]*Edge, len(idxs))
	for i, idx := range idxs {
		out[i] = &g.edges[idx]
	}
	return out
}

// Degree returns the number of edges incident to an accession.
func (g *SimilarityGraph) Degree(accession string) int {
	return len(g.adjacency[accession])
}

// Stats summarizes graph shape for reporting.
type Stats struct {
	NodeCount int     `json:"node_count"`
	EdgeCount int     `json:"edge_count"`
	MinDegree int     `json:"min_degree"`
	MaxDegree int     `json:"max_degree"`
	AvgDegree float64 `json:"avg_degree"`
	AvgWeight float64 `json:"avg_weight"`
}

// ComputeStats returns node/edge counts and degree statistics.
func (g *SimilarityGraph) ComputeStats() Stats {
	s := Stats{
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
	}
	if s.NodeCount == 0 {
		return s
	}

	s.MinDegree = int(^uint(0) >> 1)
	totalDegree := 0
	for _, idxs := range g.adjacency {
		d := len(idxs)
		totalDegree += d
		if d < s.MinDegree {
			s.MinDegree = d
		}
		if d > s.MaxDegree {
			s.MaxDegree = d
		}
	}
	s.AvgDegree = float64(totalDegree) / float64(s.NodeCount)

	if s.EdgeCount > 0 {
		totalWeight := 0.0
		for _, e := range g.edges {
			totalWeight += e.Weight
		}
		s.AvgWeight = totalWeight / float64(s.EdgeCount)
	}
	return s
}
