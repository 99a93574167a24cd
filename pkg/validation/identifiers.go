// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that are used in
// database queries, vector store filters, or file paths. Using these validators
// prevents injection attacks (query injection, path traversal) and catches
// malformed upstream data before it reaches storage.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// accessionPattern matches UniProt-style protein accessions.
// Covers the short form (P12345, Q9H0H5) and the long form
// (A0A024R161) introduced for high-volume proteomes.
// Max length: 10 characters.
var accessionPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{5,9}$`)

// domainPattern matches InterPro domain identifiers: "IPR" followed
// by exactly six digits (IPR000719).
var domainPattern = regexp.MustCompile(`^IPR[0-9]{6}$`)

// ecPattern matches Enzyme Commission numbers. Each of the four
// positions is either a number or a dash for incomplete annotations
// (1.2.3.4, 2.7.11.-, 3.-.-.-).
var ecPattern = regexp.MustCompile(`^[0-9]+\.(?:[0-9]+|-)\.(?:[0-9]+|-)\.(?:[0-9n]+|-)$`)

// ValidateAccession validates a protein accession to prevent query injection.
//
// Valid accessions:
//   - 6-10 characters
//   - Start with an uppercase letter
//   - Uppercase letters A-Z and digits 0-9 only
//
// Returns an error if the accession is invalid.
//
// Example:
//
//	if err := validation.ValidateAccession(id); err != nil {
//	    return nil, fmt.Errorf("invalid accession: %w", err)
//	}
//	// Safe to use as a storage key or filter value
func ValidateAccession(accession string) error {
	if accession == "" {
		return fmt.Errorf("accession cannot be empty")
	}

	if !accessionPattern.MatchString(accession) {
		return fmt.Errorf("invalid accession format: %q (must be 6-10 uppercase alphanumeric chars starting with a letter)", accession)
	}

	return nil
}

// ValidateAccessions validates multiple protein accessions.
// Returns an error listing all invalid accessions if any fail validation.
func ValidateAccessions(accessions []string) error {
	var invalid []string
	for _, a := range accessions {
		if err := ValidateAccession(a); err != nil {
			invalid = append(invalid, a)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid accessions: %v", invalid)
	}
	return nil
}

// SanitizeAccession normalizes and validates a protein accession.
// Returns the uppercase accession if valid, or an error if invalid.
//
// Use this when accepting accessions from user input or bulk files:
//
//	safeID, err := validation.SanitizeAccession(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeID is uppercase, trimmed, and validated
func SanitizeAccession(accession string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(accession))
	if err := ValidateAccession(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateDomainID validates an InterPro domain identifier.
//
// Valid domain IDs are exactly "IPR" followed by six digits.
// Returns an error if the identifier is invalid.
func ValidateDomainID(domainID string) error {
	if domainID == "" {
		return fmt.Errorf("domain ID cannot be empty")
	}

	if !domainPattern.MatchString(domainID) {
		return fmt.Errorf("invalid domain ID format: %q (must be IPR followed by six digits)", domainID)
	}

	return nil
}

// SanitizeDomainID normalizes and validates an InterPro domain identifier.
// Returns the uppercase identifier if valid, or an error if invalid.
func SanitizeDomainID(domainID string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(domainID))
	if err := ValidateDomainID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateECNumber validates an Enzyme Commission number.
//
// Valid EC numbers have four dot-separated positions. The leading
// position must be a number; trailing positions may be a dash for
// partially classified enzymes:
//
//	1.2.3.4
//	2.7.11.-
//	3.-.-.-
//
// Returns an error if the EC number is invalid.
func ValidateECNumber(ec string) error {
	if ec == "" {
		return fmt.Errorf("EC number cannot be empty")
	}

	if !ecPattern.MatchString(ec) {
		return fmt.Errorf("invalid EC number format: %q (must be four dot-separated positions, e.g. 1.2.3.4 or 2.7.11.-)", ec)
	}

	return nil
}

// ValidateECNumbers validates multiple EC numbers.
// Returns an error listing all invalid values if any fail validation.
func ValidateECNumbers(ecs []string) error {
	var invalid []string
	for _, ec := range ecs {
		if err := ValidateECNumber(ec); err != nil {
			invalid = append(invalid, ec)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid EC numbers: %v", invalid)
	}
	return nil
}
