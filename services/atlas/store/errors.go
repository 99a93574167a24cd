// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the persistence contract for the atlas
// pipeline and provides an in-memory implementation.
//
// The pipeline reads a full snapshot at the start of a run and writes
// results back in bulk; stores never see incremental mutation of a
// running pipeline's state.
package store

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNilProtein indicates a nil entity in a bulk upsert.
	ErrNilProtein = errors.New("protein must not be nil")

	// ErrEmptyAccession indicates an entity without an identity.
	ErrEmptyAccession = errors.New("protein accession must not be empty")
)
