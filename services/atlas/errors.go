// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atlas

import "errors"

// Sentinel errors for the atlas service. Handlers map these to HTTP
// status codes; pipeline stages return them when a prerequisite stage
// has not run.
var (
	// ErrGraphNotBuilt indicates the similarity graph has not been built.
	ErrGraphNotBuilt = errors.New("similarity graph not built")

	// ErrNoDetection indicates community detection has not run.
	ErrNoDetection = errors.New("community detection has not run")

	// ErrNoAnalysis indicates community analysis has not run.
	ErrNoAnalysis = errors.New("community analysis has not run")

	// ErrDelegatedUnavailable indicates delegated mode was requested but
	// no similarity source is configured.
	ErrDelegatedUnavailable = errors.New("delegated similarity source not configured")

	// ErrNilStore indicates the service was constructed without a store.
	ErrNilStore = errors.New("entity store must not be nil")

	// ErrInvalidLabels indicates an override request carried malformed
	// EC numbers.
	ErrInvalidLabels = errors.New("invalid EC numbers")
)
