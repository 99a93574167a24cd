// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import "errors"

var (
	// ErrNilStore indicates the service was constructed without a store.
	ErrNilStore = errors.New("loader: store is nil")

	// ErrEmptyInput indicates the TSV input had no rows at all, not
	// even a header.
	ErrEmptyInput = errors.New("loader: empty input")

	// ErrNoAccessionColumn indicates the TSV header lacks the Entry
	// column, so no row can be keyed.
	ErrNoAccessionColumn = errors.New("loader: header has no Entry column")
)
