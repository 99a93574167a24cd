// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/enzygraph/enzygraph/services/atlas/graph"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

func seedProtein(t *testing.T, s *MemoryStore, p *protein.Protein) {
	t.Helper()
	if err := s.PutProteins(context.Background(), []*protein.Protein{p}); err != nil {
		t.Fatalf("PutProteins: %v", err)
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &protein.Protein{Accession: "P00001", Domains: []string{"IPR000001"}, ECNumbers: []string{"1.1.1.1"}}
	seedProtein(t, s, p)

	got, err := s.GetProtein(ctx, "P00001")
	if err != nil {
		t.Fatalf("GetProtein: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("GetProtein = %+v, want %+v", got, p)
	}

	// The store holds a copy, not the caller's pointer.
	p.Domains[0] = "IPR999999"
	got2, _ := s.GetProtein(ctx, "P00001")
	if got2.Domains[0] != "IPR000001" {
		t.Error("stored entity aliased the caller's slice")
	}

	if _, err := s.GetProtein(ctx, "P99999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing entity error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePutValidates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutProteins(ctx, []*protein.Protein{nil}); !errors.Is(err, ErrNilProtein) {
		t.Errorf("nil entity error = %v, want ErrNilProtein", err)
	}
	if err := s.PutProteins(ctx, []*protein.Protein{{}}); !errors.Is(err, ErrEmptyAccession) {
		t.Errorf("empty accession error = %v, want ErrEmptyAccession", err)
	}
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProtein(t, s, &protein.Protein{Accession: "P00001", Domains: []string{"IPR000001"}})

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snapshot["P00001"].Domains[0] = "IPR999999"

	got, _ := s.GetProtein(ctx, "P00001")
	if got.Domains[0] != "IPR000001" {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestMemoryStoreReplaceEdges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := []graph.Edge{{A: "P00001", B: "P00002", Weight: 0.5, Shared: 2, Union: 4}}
	if err := s.ReplaceEdges(ctx, first); err != nil {
		t.Fatalf("ReplaceEdges: %v", err)
	}

	second := []graph.Edge{
		{A: "P00001", B: "P00003", Weight: 0.25, Shared: 2, Union: 8},
		{A: "P00002", B: "P00003", Weight: 1.0, Shared: 3, Union: 3},
	}
	if err := s.ReplaceEdges(ctx, second); err != nil {
		t.Fatalf("ReplaceEdges: %v", err)
	}

	got, err := s.Edges(ctx)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Errorf("Edges = %v, want wholesale replacement %v", got, second)
	}
}

func TestMemoryStoreSetClusters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProtein(t, s, &protein.Protein{Accession: "P00001"})
	seedProtein(t, s, &protein.Protein{Accession: "P00002"})

	err := s.SetClusters(ctx, map[string]int{"P00001": 3, "P00002": 3, "P99999": 7})
	if err != nil {
		t.Fatalf("SetClusters: %v", err)
	}

	got, _ := s.GetProtein(ctx, "P00001")
	if got.ClusterID == nil || *got.ClusterID != 3 {
		t.Errorf("ClusterID = %v, want 3", got.ClusterID)
	}
}

func TestMemoryStoreSetInferredLabels(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProtein(t, s, &protein.Protein{Accession: "P00001", ECNumbers: []string{"1.1.1.1"}})
	seedProtein(t, s, &protein.Protein{Accession: "P00002"})
	seedProtein(t, s, &protein.Protein{Accession: "P00003"})

	if err := s.SetClusters(ctx, map[string]int{"P00001": 0, "P00002": 0, "P00003": 1}); err != nil {
		t.Fatalf("SetClusters: %v", err)
	}

	updated, err := s.SetInferredLabels(ctx, 0, []string{"2.7.1.1", "1.1.1.1"})
	if err != nil {
		t.Fatalf("SetInferredLabels: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1 (only the unlabeled cluster-0 member)", updated)
	}

	got, _ := s.GetProtein(ctx, "P00002")
	if want := []string{"1.1.1.1", "2.7.1.1"}; !reflect.DeepEqual(got.InferredECNumbers, want) {
		t.Errorf("InferredECNumbers = %v, want %v (sorted)", got.InferredECNumbers, want)
	}

	// Ground truth and other clusters stay untouched.
	labeled, _ := s.GetProtein(ctx, "P00001")
	if len(labeled.InferredECNumbers) != 0 {
		t.Error("labeled entity received inferred labels")
	}
	other, _ := s.GetProtein(ctx, "P00003")
	if len(other.InferredECNumbers) != 0 {
		t.Error("entity outside the cluster received inferred labels")
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.PutProteins(ctx, []*protein.Protein{{Accession: "P00001"}}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("PutProteins after close = %v, want ErrStoreClosed", err)
	}
	if _, err := s.Snapshot(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Snapshot after close = %v, want ErrStoreClosed", err)
	}
}
