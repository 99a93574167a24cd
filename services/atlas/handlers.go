// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atlas

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/enzygraph/enzygraph/services/atlas/community"
	"github.com/enzygraph/enzygraph/services/atlas/graph"
)

// Handlers contains the HTTP handlers for the atlas service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleBuildGraph handles POST /v1/atlas/graph.
//
// Response:
//
//	200 OK: BuildGraphResponse
//	400 Bad Request: Validation error
//	503 Service Unavailable: Delegated source not configured
func (h *Handlers) HandleBuildGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBuildGraph")

	var req BuildGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.BuildGraph(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "BUILD_FAILED"

		switch {
		case errors.Is(err, ErrDelegatedUnavailable):
			statusCode = http.StatusServiceUnavailable
			errCode = "DELEGATED_UNAVAILABLE"
		case errors.Is(err, graph.ErrInvalidMinShared), errors.Is(err, graph.ErrInvalidMinJaccard):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_OPTIONS"
		}

		logger.Error("Graph build failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Graph built",
		"run_id", resp.RunID,
		"mode", resp.Mode,
		"edges", resp.Edges,
		"build_time_ms", resp.BuildTimeMs)
	c.JSON(http.StatusOK, resp)
}

// HandleGraphStats handles GET /v1/atlas/graph/stats.
func (h *Handlers) HandleGraphStats(c *gin.Context) {
	resp, err := h.svc.GraphStats()
	if err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "GRAPH_NOT_BUILT",
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDetect handles POST /v1/atlas/communities/detect.
//
// Response:
//
//	200 OK: DetectResponse
//	409 Conflict: Graph not built
func (h *Handlers) HandleDetect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDetect")

	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.DetectCommunities(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "DETECT_FAILED"

		switch {
		case errors.Is(err, ErrGraphNotBuilt):
			statusCode = http.StatusConflict
			errCode = "GRAPH_NOT_BUILT"
		case errors.Is(err, community.ErrInvalidMaxIterations),
			errors.Is(err, community.ErrInvalidMinCommunitySize):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_OPTIONS"
		case errors.Is(err, community.ErrDetectionCancelled):
			statusCode = http.StatusRequestTimeout
			errCode = "DETECTION_CANCELLED"
		}

		logger.Error("Detection failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Communities detected",
		"run_id", resp.RunID,
		"clusters", resp.ClusterCount,
		"iterations", resp.Iterations,
		"converged", resp.Converged)
	c.JSON(http.StatusOK, resp)
}

// HandleAnalyze handles POST /v1/atlas/communities/analyze.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	resp, err := h.svc.AnalyzeCommunities(c.Request.Context())
	if err != nil {
		logger.Warn("Analysis unavailable", "error", err)
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "NO_DETECTION",
		})
		return
	}

	logger.Info("Communities analyzed",
		"run_id", resp.RunID,
		"clusters", resp.Analysis.Summary.TotalClusters)
	c.JSON(http.StatusOK, resp)
}

// HandleClusterMembers handles GET /v1/atlas/communities/:id/members.
func (h *Handlers) HandleClusterMembers(c *gin.Context) {
	clusterID, ok := clusterIDParam(c)
	if !ok {
		return
	}

	resp, err := h.svc.ClusterMembers(clusterID)
	if err != nil {
		writeClusterQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleClusterVocabulary handles GET /v1/atlas/communities/:id/vocabulary.
func (h *Handlers) HandleClusterVocabulary(c *gin.Context) {
	clusterID, ok := clusterIDParam(c)
	if !ok {
		return
	}

	resp, err := h.svc.ClusterVocabulary(clusterID)
	if err != nil {
		writeClusterQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePropagate handles POST /v1/atlas/labels/propagate.
//
// Response:
//
//	200 OK: PropagateResponse
//	400 Bad Request: Invalid policy or threshold
//	409 Conflict: Analysis not run
func (h *Handlers) HandlePropagate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePropagate")

	var req PropagateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.PropagateLabels(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "PROPAGATE_FAILED"

		switch {
		case errors.Is(err, ErrNoAnalysis), errors.Is(err, community.ErrNoAnalysis):
			statusCode = http.StatusConflict
			errCode = "NO_ANALYSIS"
		case errors.Is(err, community.ErrInvalidThreshold):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_THRESHOLD"
		case errors.Is(err, community.ErrUnknownPolicy):
			statusCode = http.StatusBadRequest
			errCode = "UNKNOWN_POLICY"
		}

		logger.Error("Propagation failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Labels propagated",
		"run_id", resp.RunID,
		"policy", resp.Result.Policy,
		"entities_labeled", resp.Result.EntitiesLabeled)
	c.JSON(http.StatusOK, resp)
}

// HandleCompare handles POST /v1/atlas/labels/compare.
func (h *Handlers) HandleCompare(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCompare")

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.ComparePolicies(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "COMPARE_FAILED"

		switch {
		case errors.Is(err, ErrNoAnalysis), errors.Is(err, community.ErrNoAnalysis):
			statusCode = http.StatusConflict
			errCode = "NO_ANALYSIS"
		case errors.Is(err, community.ErrInvalidThreshold):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_THRESHOLD"
		}

		logger.Error("Comparison failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleOverride handles POST /v1/atlas/communities/:id/labels.
func (h *Handlers) HandleOverride(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOverride")

	clusterID, ok := clusterIDParam(c)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.OverrideClusterLabels(c.Request.Context(), clusterID, req.Labels)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "OVERRIDE_FAILED"

		switch {
		case errors.Is(err, ErrInvalidLabels):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_LABELS"
		case errors.Is(err, ErrNoDetection):
			statusCode = http.StatusConflict
			errCode = "NO_DETECTION"
		case errors.Is(err, community.ErrClusterNotFound):
			statusCode = http.StatusNotFound
			errCode = "CLUSTER_NOT_FOUND"
		}

		logger.Error("Override failed", "error", err, "cluster_id", clusterID)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Cluster labels overridden",
		"cluster_id", clusterID,
		"entities_labeled", resp.Result.EntitiesLabeled)
	c.JSON(http.StatusOK, resp)
}

// HandlePipeline handles POST /v1/atlas/pipeline.
func (h *Handlers) HandlePipeline(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePipeline")

	var req PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.RunPipeline(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "PIPELINE_FAILED"

		switch {
		case errors.Is(err, ErrDelegatedUnavailable):
			statusCode = http.StatusServiceUnavailable
			errCode = "DELEGATED_UNAVAILABLE"
		case errors.Is(err, community.ErrInvalidThreshold),
			errors.Is(err, community.ErrUnknownPolicy),
			errors.Is(err, community.ErrInvalidMaxIterations),
			errors.Is(err, community.ErrInvalidMinCommunitySize),
			errors.Is(err, graph.ErrInvalidMinShared),
			errors.Is(err, graph.ErrInvalidMinJaccard):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_OPTIONS"
		}

		logger.Error("Pipeline run failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Pipeline run complete", "run_id", resp.RunID)
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/atlas/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	count, err := h.svc.ProteinCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_UNAVAILABLE",
		})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  ServiceVersion,
		Proteins: count,
		Graph:    h.svc.GraphBuilt(),
	})
}

// HandleReady handles GET /v1/atlas/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.svc.ProteinCount(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// clusterIDParam parses the :id path parameter, writing the error
// response itself on failure.
func clusterIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "cluster id must be a non-negative integer",
			Code:  "INVALID_CLUSTER_ID",
		})
		return 0, false
	}
	return id, true
}

// writeClusterQueryError maps cluster query errors to HTTP statuses.
func writeClusterQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNoDetection), errors.Is(err, ErrNoAnalysis):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "NO_DETECTION"})
	case errors.Is(err, community.ErrClusterNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "CLUSTER_NOT_FOUND"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
	}
}

// getOrCreateRequestID returns the request's X-Request-ID, minting one
// when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
