// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package weaviate

import (
	"log/slog"
	"sync/atomic"
)

// DegradationHandler reacts to Weaviate availability changes.
//
// Implementations must be safe for concurrent use; the client invokes
// callbacks from its health checker goroutine.
type DegradationHandler interface {
	// OnDegraded is called when Weaviate becomes unavailable.
	OnDegraded(reason string)

	// OnRecovered is called when Weaviate becomes available again.
	OnRecovered()
}

// OperationMode describes how a component should behave given the
// current Weaviate availability.
type OperationMode int32

const (
	// ModeNormal means full functionality.
	ModeNormal OperationMode = iota
	// ModeDegraded means reduced functionality without Weaviate.
	ModeDegraded
)

func (m OperationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// BaseDegradationHandler tracks the current operation mode for a
// named component and logs transitions.
type BaseDegradationHandler struct {
	component string
	logger    *slog.Logger
	mode      atomic.Int32
}

// NewBaseDegradationHandler creates a handler starting in ModeNormal.
func NewBaseDegradationHandler(component string, logger *slog.Logger) *BaseDegradationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseDegradationHandler{
		component: component,
		logger:    logger.With(slog.String("component", component)),
	}
}

// OnDegraded implements DegradationHandler.
func (h *BaseDegradationHandler) OnDegraded(reason string) {
	h.mode.Store(int32(ModeDegraded))
	h.logger.Warn("entering degraded mode", slog.String("reason", reason))
}

// OnRecovered implements DegradationHandler.
func (h *BaseDegradationHandler) OnRecovered() {
	h.mode.Store(int32(ModeNormal))
	h.logger.Info("recovered to normal mode")
}

// Mode returns the current operation mode.
func (h *BaseDegradationHandler) Mode() OperationMode {
	return OperationMode(h.mode.Load())
}

// IsDegraded reports whether the component is in degraded mode.
func (h *BaseDegradationHandler) IsDegraded() bool {
	return h.Mode() == ModeDegraded
}

// SimilarityDegradation gates the delegated similarity builder. While
// Weaviate is degraded the graph service falls back to the exact
// Jaccard builder instead of waiting on a dead backend.
type SimilarityDegradation struct {
	*BaseDegradationHandler
}

// NewSimilarityDegradation creates the graph builder's handler.
func NewSimilarityDegradation(logger *slog.Logger) *SimilarityDegradation {
	return &SimilarityDegradation{
		BaseDegradationHandler: NewBaseDegradationHandler("similarity_source", logger),
	}
}

// UseExactFallback reports whether delegated builds should be served
// by the exact builder for now.
func (h *SimilarityDegradation) UseExactFallback() bool {
	return h.IsDegraded()
}
