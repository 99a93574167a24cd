// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atlas

import (
	"github.com/enzygraph/enzygraph/services/atlas/batch"
	"github.com/enzygraph/enzygraph/services/atlas/community"
	"github.com/enzygraph/enzygraph/services/atlas/graph"
)

// Graph build modes.
const (
	// ModeExact computes Jaccard weights in-process over the domain index.
	ModeExact = "exact"

	// ModeDelegated consumes pairwise similarities from the external
	// engine and recovers shared/union counts from entity degrees.
	ModeDelegated = "delegated"
)

// BuildGraphRequest is the request body for POST /v1/atlas/graph.
type BuildGraphRequest struct {
	// Mode selects the builder. Default: "exact".
	Mode string `json:"mode" binding:"omitempty,oneof=exact delegated"`

	// MinSharedDomains is the minimum shared-domain floor, >= 0. A
	// pointer so that an explicit 0 (no floor) is distinguishable from
	// an absent field. Default: 2.
	MinSharedDomains *int `json:"min_shared_domains" binding:"omitempty,min=0"`

	// MinJaccard is the minimum edge weight. Default: 0.1.
	MinJaccard float64 `json:"min_jaccard" binding:"omitempty,gt=0,lte=1"`
}

// BuildGraphResponse is the response for POST /v1/atlas/graph.
type BuildGraphResponse struct {
	// RunID identifies this build.
	RunID string `json:"run_id"`

	// Mode is the builder actually used. May differ from the request
	// when delegated mode fell back to exact.
	Mode string `json:"mode"`

	// FellBack is true when delegated mode was requested but the
	// external engine was degraded and the exact builder served.
	FellBack bool `json:"fell_back,omitempty"`

	// Entities is the number of entities in the snapshot.
	Entities int `json:"entities"`

	// Skipped is the number of malformed entities skipped by indexing.
	Skipped int `json:"skipped"`

	// Nodes is the number of entities with at least one edge.
	Nodes int `json:"nodes"`

	// Edges is the number of edges in the built graph.
	Edges int `json:"edges"`

	// BuildTimeMs is the wall time of the build stage.
	BuildTimeMs int64 `json:"build_time_ms"`
}

// GraphStatsResponse is the response for GET /v1/atlas/graph/stats.
type GraphStatsResponse struct {
	Nodes     int     `json:"nodes"`
	Edges     int     `json:"edges"`
	MinDegree int     `json:"min_degree"`
	MaxDegree int     `json:"max_degree"`
	AvgDegree float64 `json:"avg_degree"`
	AvgWeight float64 `json:"avg_weight"`
}

// DetectRequest is the request body for POST /v1/atlas/communities/detect.
type DetectRequest struct {
	// MaxIterations bounds the propagation passes. Default: 10.
	MaxIterations int `json:"max_iterations" binding:"omitempty,min=1"`

	// MinCommunitySize filters reported clusters. Default: 2.
	MinCommunitySize int `json:"min_community_size" binding:"omitempty,min=1"`

	// ConsecutiveIDs renumbers cluster ids from 0. Default: false.
	ConsecutiveIDs *bool `json:"consecutive_ids"`
}

// DetectResponse is the response for POST /v1/atlas/communities/detect.
type DetectResponse struct {
	// RunID identifies this detection run.
	RunID string `json:"run_id"`

	// Detection is the full detector output minus raw assignments.
	ClusterCount   int                 `json:"cluster_count"`
	Iterations     int                 `json:"iterations"`
	Converged      bool                `json:"converged"`
	NodeCount      int                 `json:"node_count"`
	EdgeCount      int                 `json:"edge_count"`
	SingletonCount int                 `json:"singleton_count"`
	Clusters       []community.Cluster `json:"clusters"`

	// WriteBack reports the store write-back batches.
	WriteBack *batch.Report `json:"write_back,omitempty"`

	// DetectTimeMs is the wall time of the detection stage.
	DetectTimeMs int64 `json:"detect_time_ms"`
}

// AnalyzeResponse is the response for POST /v1/atlas/communities/analyze.
type AnalyzeResponse struct {
	RunID    string              `json:"run_id"`
	Analysis *community.Analysis `json:"analysis"`
}

// ClusterMembersResponse is the response for GET /v1/atlas/communities/:id/members.
type ClusterMembersResponse struct {
	ClusterID int      `json:"cluster_id"`
	Size      int      `json:"size"`
	Members   []string `json:"members"`
}

// ClusterVocabularyResponse is the response for GET /v1/atlas/communities/:id/vocabulary.
type ClusterVocabularyResponse struct {
	ClusterID    int      `json:"cluster_id"`
	Size         int      `json:"size"`
	LabeledCount int      `json:"labeled_count"`
	ECNumbers    []string `json:"ec_numbers"`
}

// PropagateRequest is the request body for POST /v1/atlas/labels/propagate.
type PropagateRequest struct {
	// Policy selects the inference policy, "weighted" or "majority".
	// Required.
	Policy string `json:"policy" binding:"required,oneof=weighted majority"`

	// Threshold is the weighted-policy frequency floor, range (0, 1].
	// Default: 0.3. Ignored by the majority policy.
	Threshold float64 `json:"threshold" binding:"omitempty,gt=0,lte=1"`
}

// PropagateResponse is the response for POST /v1/atlas/labels/propagate.
type PropagateResponse struct {
	RunID  string                       `json:"run_id"`
	Result *community.PropagationResult `json:"result"`

	// WriteBack reports the store write-back batches.
	WriteBack *batch.Report `json:"write_back,omitempty"`
}

// CompareRequest is the request body for POST /v1/atlas/labels/compare.
type CompareRequest struct {
	// Threshold for the weighted side of the comparison. Default: 0.3.
	Threshold float64 `json:"threshold" binding:"omitempty,gt=0,lte=1"`
}

// CompareResponse is the response for POST /v1/atlas/labels/compare.
type CompareResponse struct {
	RunID  string                      `json:"run_id"`
	Result *community.ComparisonResult `json:"result"`
}

// OverrideRequest is the request body for POST /v1/atlas/communities/:id/labels.
type OverrideRequest struct {
	// Labels is the explicit EC list for every unlabeled member. Required.
	Labels []string `json:"labels" binding:"required,min=1,dive,required"`
}

// PipelineRequest is the request body for POST /v1/atlas/pipeline.
// Zero values use the stage defaults.
type PipelineRequest struct {
	Graph     BuildGraphRequest `json:"graph"`
	Detect    DetectRequest     `json:"detect"`
	Propagate PropagateRequest  `json:"propagate" binding:"omitempty"`
}

// StageTiming reports one pipeline stage's wall time.
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
}

// PipelineResponse is the response for POST /v1/atlas/pipeline.
type PipelineResponse struct {
	RunID     string                       `json:"run_id"`
	Graph     *BuildGraphResponse          `json:"graph"`
	Detect    *DetectResponse              `json:"detect"`
	Summary   community.Summary            `json:"summary"`
	Propagate *community.PropagationResult `json:"propagate,omitempty"`
	Timings   []StageTiming                `json:"timings"`
}

// HealthResponse is the response for GET /v1/atlas/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Proteins int    `json:"proteins"`
	Graph    bool   `json:"graph_built"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`
}

// graphStats converts internal stats to the response shape.
func graphStats(s graph.Stats) GraphStatsResponse {
	return GraphStatsResponse{
		Nodes:     s.NodeCount,
		Edges:     s.EdgeCount,
		MinDegree: s.MinDegree,
		MaxDegree: s.MaxDegree,
		AvgDegree: s.AvgDegree,
		AvgWeight: s.AvgWeight,
	}
}
