// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protein

import "sort"

// DomainIndex is the inverted index mapping a domain to the accessions
// carrying it, plus the per-protein deduplicated domain cardinality.
//
// Built once per pipeline run from the entity snapshot. Read-only after
// construction; safe for concurrent reads.
type DomainIndex struct {
	// byDomain maps domain ID to sorted member accessions.
	byDomain map[string][]string

	// degrees maps accession to deduplicated domain count.
	degrees map[string]int

	// skipped counts input records dropped for missing identity.
	skipped int
}

// BuildDomainIndex constructs the inverted index from an entity snapshot.
//
// Description:
//
//	Proteins without an accession are skipped and counted, never fatal.
//	Duplicate domain annotations on one protein are deduplicated before
//	counting, so a protein contributes at most once per domain posting
//	list. Posting lists are sorted for deterministic pair enumeration.
//
// Inputs:
//
//	proteins - The entity snapshot. May be nil or empty.
//
// Outputs:
//
//	*DomainIndex - The index. Never nil.
func BuildDomainIndex(proteins []*Protein) *DomainIndex {
	idx := &DomainIndex{
		byDomain: make(map[string][]string),
		degrees:  make(map[string]int),
	}

	for _, p := range proteins {
		if p == nil || p.Accession == "" {
			idx.skipped++
			continue
		}
		domains := p.DomainSet()
		idx.degrees[p.Accession] = len(domains)
		for _, d := range domains {
			idx.byDomain[d] = append(idx.byDomain[d], p.Accession)
		}
	}

	for d := range idx.byDomain {
		sort.Strings(idx.byDomain[d])
	}

	return idx
}

// Members returns the sorted accessions carrying a domain.
// The returned slice must not be modified.
func (idx *DomainIndex) Members(domain string) []string {
	return idx.byDomain[domain]
}

// Degree returns the deduplicated domain cardinality for an accession,
// and whether the accession is known to the index.
func (idx *DomainIndex) Degree(accession string) (int, bool) {
	d, ok := idx.degrees[accession]
	return d, ok
}

// Domains returns all indexed domain IDs in sorted order.
func (idx *DomainIndex) Domains() []string {
	out := make([]string, 0, len(idx.byDomain))
	for d := range idx.byDomain {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Accessions returns all indexed accessions in sorted order,
// including proteins with zero domains.
func (idx *DomainIndex) Accessions() []string {
	out := make([]string, 0, len(idx.degrees))
	for a := range idx.degrees {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// DomainCount returns the number of distinct indexed domains.
func (idx *DomainIndex) DomainCount() int {
	return len(idx.byDomain)
}

// EntityCount returns the number of indexed proteins.
func (idx *DomainIndex) EntityCount() int {
	return len(idx.degrees)
}

// Skipped returns how many input records were dropped for missing identity.
func (idx *DomainIndex) Skipped() int {
	return idx.skipped
}
