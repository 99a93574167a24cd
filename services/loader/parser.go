// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package loader ingests UniProt TSV exports into the entity store.
//
// The expected input is a tab-separated file with a header row naming
// the UniProt export columns (Entry, Entry Name, Organism, Length,
// EC number, InterPro). Column order is free; unknown columns are
// ignored. Rows without a valid accession are skipped and counted,
// never fatal.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/enzygraph/enzygraph/pkg/validation"
	"github.com/enzygraph/enzygraph/services/atlas/protein"
)

// UniProt export column names.
const (
	colEntry     = "Entry"
	colEntryName = "Entry Name"
	colOrganism  = "Organism"
	colLength    = "Length"
	colSequence  = "Sequence"
	colECNumber  = "EC number"
	colInterPro  = "InterPro"
)

// ParseResult is the outcome of parsing one TSV stream.
type ParseResult struct {
	// Proteins are the parsed entities, in file order.
	Proteins []*protein.Protein

	// Rows is the number of data rows read, header excluded.
	Rows int

	// Skipped counts rows without an accession.
	Skipped int
}

// ParseTSV parses a UniProt TSV export.
//
// Rows with a missing or malformed Entry value are skipped and
// counted; accessions are normalized to uppercase.
// A missing optional column leaves the corresponding field zero. When
// the Length column is absent, the sequence length falls back to the
// Sequence column's character count.
func ParseTSV(r io.Reader) (*ParseResult, error) {
	tsv := csv.NewReader(r)
	tsv.Comma = '\t'
	tsv.FieldsPerRecord = -1
	tsv.LazyQuotes = true

	header, err := tsv.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols[colEntry]; !ok {
		return nil, ErrNoAccessionColumn
	}

	result := &ParseResult{}
	for {
		row, err := tsv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", result.Rows+2, err)
		}
		result.Rows++

		accession, err := validation.SanitizeAccession(field(row, cols, colEntry))
		if err != nil {
			result.Skipped++
			continue
		}

		p := &protein.Protein{
			Accession: accession,
			EntryName: field(row, cols, colEntryName),
			Organism:  field(row, cols, colOrganism),
			Domains:   splitSemicolonField(field(row, cols, colInterPro)),
			ECNumbers: splitSemicolonField(field(row, cols, colECNumber)),
		}
		if raw := field(row, cols, colLength); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				p.SequenceLength = n
			}
		}
		if p.SequenceLength == 0 {
			p.SequenceLength = len(field(row, cols, colSequence))
		}

		result.Proteins = append(result.Proteins, p)
	}

	return result, nil
}

// field returns the named column's trimmed value, or "" when the
// column is absent or the row is short.
func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// splitSemicolonField splits "a; b; c" into ["a","b","c"], dropping
// blanks. UniProt terminates list fields with a trailing semicolon.
func splitSemicolonField(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
