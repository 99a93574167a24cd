// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// MemoryStore is an in-memory EntityStore. It backs tests and
// single-process deployments that load their data per run.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	proteins map[string]*protein.Protein
	edges    []graph.Edge
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proteins: make(map[string]*protein.Protein)}
}

func (s *MemoryStore) PutProteins(ctx context.Context, proteins []*protein.Protein) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range proteins {
		if p == nil {
			return ErrNilProtein
		}
		if p.Accession == "" {
			return ErrEmptyAccession
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for _, p := range proteins {
		s.proteins[p.Accession] = p.Clone()
	}
	return nil
}

func (s *MemoryStore) GetProtein(ctx context.Context, accession string) (*protein.Protein, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	p, ok := s.proteins[accession]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accession)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) (map[string]*protein.Protein, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snapshot := make(map[string]*protein.Protein, len(s.proteins))
	for acc, p := range s.proteins {
		snapshot[acc] = p.Clone()
	}
	return snapshot, nil
}

func (s *MemoryStore) CountProteins(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.proteins), nil
}

func (s *MemoryStore) ReplaceEdges(ctx context.Context, edges []graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.edges = append([]graph.Edge(nil), edges...)
	return nil
}

func (s *MemoryStore) Edges(ctx context.Context) ([]graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return append([]graph.Edge(nil), s.edges...), nil
}

func (s *MemoryStore) SetClusters(ctx context.Context, assignments map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for acc, id := range assignments {
		if p, ok := s.proteins[acc]; ok {
			p.SetCluster(id)
		}
	}
	return nil
}

func (s *MemoryStore) SetInferredLabels(ctx context.Context, clusterID int, labels []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	updated := 0
	for _, p := range s.proteins {
		if p.ClusterID == nil || *p.ClusterID != clusterID || p.HasGroundTruth() {
			continue
		}
		p.InferredECNumbers = append([]string(nil), sorted...)
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
