// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package protein defines the entity model for the similarity pipeline
// and the inverted domain index it is built from.
//
// A Protein carries a set of InterPro domain annotations (the similarity
// signal) and, for a labeled subset, ground-truth EC numbers. The pipeline
// writes back two derived fields: the cluster assignment produced by
// community detection and the inferred EC numbers produced by label
// propagation. Ground-truth EC numbers are never overwritten.
package protein

import "sort"

// Protein is the unit of analysis.
//
// Lifecycle: created by ingestion, read by every pipeline stage.
// ClusterID is written once per detector run, InferredECNumbers once per
// propagation run. Proteins are never deleted by the pipeline.
type Protein struct {
	// Accession is the unique identity (UniProt-style, e.g. "P12345").
	Accession string `json:"accession"`

	// EntryName is the human-readable display name (e.g. "AMY2_HUMAN").
	EntryName string `json:"entry_name,omitempty"`

	// Organism is the source organism.
	Organism string `json:"organism,omitempty"`

	// SequenceLength is the amino acid count.
	SequenceLength int `json:"sequence_length,omitempty"`

	// Domains are InterPro domain identifiers. May contain duplicates
	// as ingested; consumers must deduplicate (see DomainSet).
	Domains []string `json:"domains,omitempty"`

	// ECNumbers are ground-truth EC annotations. Empty means unlabeled.
	ECNumbers []string `json:"ec_numbers,omitempty"`

	// ClusterID is the community assignment from the last detector run.
	// Nil until a detector run has covered this protein.
	ClusterID *int `json:"cluster_id,omitempty"`

	// InferredECNumbers are EC numbers assigned by label propagation.
	// Kept strictly separate from ECNumbers.
	InferredECNumbers []string `json:"inferred_ec_numbers,omitempty"`
}

// HasGroundTruth reports whether the protein carries at least one
// ground-truth EC number.
func (p *Protein) HasGroundTruth() bool {
	return len(p.ECNumbers) > 0
}

// DomainSet returns the protein's domains deduplicated and sorted.
func (p *Protein) DomainSet() []string {
	if len(p.Domains) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(p.Domains))
	out := make([]string, 0, len(p.Domains))
	for _, d := range p.Domains {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DomainCount returns the deduplicated domain cardinality |tags(e)|.
func (p *Protein) DomainCount() int {
	return len(p.DomainSet())
}

// SetCluster records a community assignment.
func (p *Protein) SetCluster(id int) {
	p.ClusterID = &id
}

// Clone returns a deep copy. Pipeline stages operate on an in-memory
// snapshot; cloning keeps the snapshot independent of store state.
func (p *Protein) Clone() *Protein {
	c := *p
	if p.Domains != nil {
		c.Domains = append([]string(nil), p.Domains...)
	}
	if p.ECNumbers != nil {
		c.ECNumbers = append([]string(nil), p.ECNumbers...)
	}
	if p.InferredECNumbers != nil {
		c.InferredECNumbers = append([]string(nil), p.InferredECNumbers...)
	}
	if p.ClusterID != nil {
		id := *p.ClusterID
		c.ClusterID = &id
	}
	return &c
}
