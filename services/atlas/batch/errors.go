// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package batch dispatches store write-backs in fixed-size batches with
// bounded parallelism and bounded retries.
//
// A failed batch is reported in the run's result, never silently
// dropped, and never aborts sibling batches. Retries assume the write
// is idempotent: values are fully overwritten, not incremented.
package batch

import "errors"

var (
	// ErrInvalidBatchSize indicates a batch size below 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")

	// ErrInvalidWorkers indicates a worker count below 1.
	ErrInvalidWorkers = errors.New("worker count must be at least 1")

	// ErrInvalidRetryPolicy indicates an out-of-range retry policy field.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrNilWriteFunc indicates Run was called without a write function.
	ErrNilWriteFunc = errors.New("write function must not be nil")

	// ErrBatchesFailed indicates at least one batch exhausted its
	// retries. Per-batch detail is in the Report.
	ErrBatchesFailed = errors.New("one or more batches failed")
)
