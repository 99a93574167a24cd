// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"errors"
	"strings"
	"testing"
)

const sampleTSV = "Entry\tEntry Name\tOrganism\tLength\tEC number\tInterPro\n" +
	"P12345\tAMY1_HUMAN\tHomo sapiens\t511\t3.2.1.1; 3.2.1.2;\tIPR001; IPR002;\n" +
	"\tNONAME\tHomo sapiens\t100\t\t\n" +
	"Q99999\tKIN1_MOUSE\tMus musculus\t302\t\tIPR003;\n"

func TestParseTSV(t *testing.T) {
	result, err := ParseTSV(strings.NewReader(sampleTSV))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}

	if result.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", result.Rows)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", result.Skipped)
	}
	if len(result.Proteins) != 2 {
		t.Fatalf("expected 2 proteins, got %d", len(result.Proteins))
	}

	p := result.Proteins[0]
	if p.Accession != "P12345" {
		t.Errorf("expected accession P12345, got %q", p.Accession)
	}
	if p.EntryName != "AMY1_HUMAN" {
		t.Errorf("expected entry name AMY1_HUMAN, got %q", p.EntryName)
	}
	if p.SequenceLength != 511 {
		t.Errorf("expected length 511, got %d", p.SequenceLength)
	}
	if len(p.ECNumbers) != 2 || p.ECNumbers[0] != "3.2.1.1" {
		t.Errorf("expected EC numbers [3.2.1.1 3.2.1.2], got %v", p.ECNumbers)
	}
	if len(p.Domains) != 2 || p.Domains[1] != "IPR002" {
		t.Errorf("expected domains [IPR001 IPR002], got %v", p.Domains)
	}

	q := result.Proteins[1]
	if len(q.ECNumbers) != 0 {
		t.Errorf("expected no EC numbers, got %v", q.ECNumbers)
	}
	if q.HasGroundTruth() {
		t.Error("expected Q99999 unlabeled")
	}
}

func TestParseTSV_MalformedAccessionSkipped(t *testing.T) {
	tsv := "Entry\tOrganism\n" +
		"not-an-id!\tHomo sapiens\n" +
		"p12345\tHomo sapiens\n"

	result, err := ParseTSV(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", result.Skipped)
	}
	// Lowercase accessions are normalized, not rejected.
	if len(result.Proteins) != 1 || result.Proteins[0].Accession != "P12345" {
		t.Errorf("expected normalized P12345, got %+v", result.Proteins)
	}
}

func TestParseTSV_ColumnOrderIndependent(t *testing.T) {
	tsv := "InterPro\tEntry\tLength\n" +
		"IPR007;\tA00001\t99\n"

	result, err := ParseTSV(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if len(result.Proteins) != 1 {
		t.Fatalf("expected 1 protein, got %d", len(result.Proteins))
	}
	p := result.Proteins[0]
	if p.Accession != "A00001" || p.SequenceLength != 99 || len(p.Domains) != 1 {
		t.Errorf("unexpected parse result: %+v", p)
	}
}

func TestParseTSV_LengthFallsBackToSequence(t *testing.T) {
	tsv := "Entry\tSequence\n" +
		"B00001\tMKVLAA\n"

	result, err := ParseTSV(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if got := result.Proteins[0].SequenceLength; got != 6 {
		t.Errorf("expected sequence length 6, got %d", got)
	}
}

func TestParseTSV_ShortRows(t *testing.T) {
	tsv := "Entry\tEntry Name\tOrganism\n" +
		"C00001\n"

	result, err := ParseTSV(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("ParseTSV: %v", err)
	}
	if len(result.Proteins) != 1 || result.Proteins[0].Organism != "" {
		t.Errorf("expected short row to parse with empty fields, got %+v", result.Proteins)
	}
}

func TestParseTSV_Errors(t *testing.T) {
	if _, err := ParseTSV(strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}

	noEntry := "Accession\tOrganism\nP1\tHuman\n"
	if _, err := ParseTSV(strings.NewReader(noEntry)); !errors.Is(err, ErrNoAccessionColumn) {
		t.Errorf("expected ErrNoAccessionColumn, got %v", err)
	}
}

func TestSplitSemicolonField(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty", in: "", want: 0},
		{name: "single", in: "3.2.1.1", want: 1},
		{name: "trailing semicolon", in: "3.2.1.1;", want: 1},
		{name: "spaced list", in: "a; b; c", want: 3},
		{name: "only separators", in: "; ; ;", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSemicolonField(tt.in); len(got) != tt.want {
				t.Errorf("expected %d parts, got %v", tt.want, got)
			}
		})
	}
}
