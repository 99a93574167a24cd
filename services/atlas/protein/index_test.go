// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protein

import (
	"reflect"
	"testing"
)

// newProtein is a test fixture for a minimal protein.
func newProtein(t *testing.T, accession string, domains ...string) *Protein {
	t.Helper()
	return &Protein{
		Accession: accession,
		Domains:   domains,
	}
}

func TestProtein_HasGroundTruth(t *testing.T) {
	labeled := &Protein{Accession: "P00001", ECNumbers: []string{"1.1.1.1"}}
	if !labeled.HasGroundTruth() {
		t.Error("protein with EC numbers should have ground truth")
	}

	unlabeled := &Protein{Accession: "P00002"}
	if unlabeled.HasGroundTruth() {
		t.Error("protein without EC numbers should not have ground truth")
	}
}

func TestProtein_DomainSet_Deduplicates(t *testing.T) {
	p := newProtein(t, "P00001", "IPR000002", "IPR000001", "IPR000002", "", "IPR000001")

	got := p.DomainSet()
	want := []string{"IPR000001", "IPR000002"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DomainSet() = %v, want %v", got, want)
	}
	if p.DomainCount() != 2 {
		t.Errorf("DomainCount() = %d, want 2", p.DomainCount())
	}
}

func TestProtein_DomainSet_Empty(t *testing.T) {
	p := newProtein(t, "P00001")
	if got := p.DomainSet(); got != nil {
		t.Errorf("DomainSet() = %v, want nil", got)
	}
	if p.DomainCount() != 0 {
		t.Errorf("DomainCount() = %d, want 0", p.DomainCount())
	}
}

func TestProtein_Clone_Independent(t *testing.T) {
	p := &Protein{
		Accession:         "P00001",
		Domains:           []string{"IPR000001"},
		ECNumbers:         []string{"1.1.1.1"},
		InferredECNumbers: []string{"2.2.2.2"},
	}
	p.SetCluster(7)

	c := p.Clone()
	c.Domains[0] = "IPR999999"
	c.ECNumbers[0] = "9.9.9.9"
	*c.ClusterID = 42

	if p.Domains[0] != "IPR000001" {
		t.Error("Clone() shares Domains slice with original")
	}
	if p.ECNumbers[0] != "1.1.1.1" {
		t.Error("Clone() shares ECNumbers slice with original")
	}
	if *p.ClusterID != 7 {
		t.Error("Clone() shares ClusterID pointer with original")
	}
}

func TestBuildDomainIndex_Basic(t *testing.T) {
	proteins := []*Protein{
		newProtein(t, "P00002", "IPR000001", "IPR000002"),
		newProtein(t, "P00001", "IPR000001"),
		newProtein(t, "P00003", "IPR000002", "IPR000003"),
	}

	idx := BuildDomainIndex(proteins)

	if idx.EntityCount() != 3 {
		t.Errorf("EntityCount() = %d, want 3", idx.EntityCount())
	}
	if idx.DomainCount() != 3 {
		t.Errorf("DomainCount() = %d, want 3", idx.DomainCount())
	}

	// Posting lists sorted by accession
	got := idx.Members("IPR000001")
	want := []string{"P00001", "P00002"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Members(IPR000001) = %v, want %v", got, want)
	}

	if d, ok := idx.Degree("P00002"); !ok || d != 2 {
		t.Errorf("Degree(P00002) = %d, %v, want 2, true", d, ok)
	}
}

func TestBuildDomainIndex_SkipsMissingIdentity(t *testing.T) {
	proteins := []*Protein{
		newProtein(t, "P00001", "IPR000001"),
		newProtein(t, "", "IPR000002"),
		nil,
	}

	idx := BuildDomainIndex(proteins)

	if idx.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", idx.Skipped())
	}
	if idx.EntityCount() != 1 {
		t.Errorf("EntityCount() = %d, want 1", idx.EntityCount())
	}
	if idx.Members("IPR000002") != nil {
		t.Error("domains of skipped records should not be indexed")
	}
}

func TestBuildDomainIndex_DeduplicatesAnnotations(t *testing.T) {
	proteins := []*Protein{
		newProtein(t, "P00001", "IPR000001", "IPR000001", "IPR000001"),
	}

	idx := BuildDomainIndex(proteins)

	if got := idx.Members("IPR000001"); len(got) != 1 {
		t.Errorf("Members(IPR000001) = %v, want single entry", got)
	}
	if d, _ := idx.Degree("P00001"); d != 1 {
		t.Errorf("Degree(P00001) = %d, want 1", d)
	}
}

func TestBuildDomainIndex_ZeroDomainProteinIndexed(t *testing.T) {
	// A tagless protein is known to the index with degree 0 so the
	// detector can still materialize it as a singleton cluster.
	idx := BuildDomainIndex([]*Protein{newProtein(t, "P00001")})

	if d, ok := idx.Degree("P00001"); !ok || d != 0 {
		t.Errorf("Degree(P00001) = %d, %v, want 0, true", d, ok)
	}
	if got := idx.Accessions(); !reflect.DeepEqual(got, []string{"P00001"}) {
		t.Errorf("Accessions() = %v, want [P00001]", got)
	}
}

func TestBuildDomainIndex_Empty(t *testing.T) {
	idx := BuildDomainIndex(nil)

	if idx.EntityCount() != 0 || idx.DomainCount() != 0 {
		t.Error("empty input should yield empty index")
	}
	if idx.Domains() == nil {
		// Domains() returns an empty, non-nil slice for consistency
	}
}
