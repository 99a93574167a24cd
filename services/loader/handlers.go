// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/enzygraph/enzygraph/services/atlas/batch"
)

// ErrorResponse is the error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// LoadFileRequest is the request body for POST /v1/load/file.
type LoadFileRequest struct {
	// Path is the server-local TSV file to ingest. Must be absolute.
	Path string `json:"path" binding:"required"`
}

// LoadResponse is the response for both load endpoints.
type LoadResponse struct {
	RunID string `json:"run_id"`
	LoadResult
}

// Handlers contains the HTTP handlers for the loader service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes registers the loader routes with the router group.
//
// Endpoints:
//
//	POST /v1/load      - Ingest a TSV stream from the request body
//	POST /v1/load/file - Ingest a server-local TSV file
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	load := rg.Group("/load")
	{
		load.POST("", handlers.HandleLoadBody)
		load.POST("/file", handlers.HandleLoadFile)
	}
}

// HandleLoadBody handles POST /v1/load. The request body is the raw
// TSV stream.
func (h *Handlers) HandleLoadBody(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadBody")

	result, err := h.svc.Load(c.Request.Context(), c.Request.Body)
	writeLoadResult(c, logger, result, err)
}

// HandleLoadFile handles POST /v1/load/file. The body names a
// server-local TSV file.
func (h *Handlers) HandleLoadFile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadFile")

	var req LoadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if !filepath.IsAbs(req.Path) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "path must be absolute",
			Code:  "INVALID_PATH",
		})
		return
	}

	f, err := os.Open(req.Path)
	if err != nil {
		status := http.StatusInternalServerError
		code := "OPEN_FAILED"
		if os.IsNotExist(err) {
			status = http.StatusNotFound
			code = "FILE_NOT_FOUND"
		}
		logger.Warn("Failed to open input file", "path", req.Path, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	defer f.Close()

	result, err := h.svc.Load(c.Request.Context(), f)
	writeLoadResult(c, logger, result, err)
}

// writeLoadResult maps a load outcome to the HTTP response. Partial
// batch failure still returns the result, with 207 to flag it.
func writeLoadResult(c *gin.Context, logger *slog.Logger, result *LoadResult, err error) {
	if err != nil && !errors.Is(err, batch.ErrBatchesFailed) {
		statusCode := http.StatusInternalServerError
		errCode := "LOAD_FAILED"

		switch {
		case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrNoAccessionColumn):
			statusCode = http.StatusBadRequest
			errCode = "INVALID_TSV"
		}

		logger.Error("Ingestion failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	resp := LoadResponse{RunID: uuid.NewString()}
	if result != nil {
		resp.LoadResult = *result
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		logger.Warn("Ingestion partially failed",
			"inserted", resp.Inserted,
			"failed_batches", resp.Report.Failed)
	} else {
		logger.Info("Ingestion complete",
			"run_id", resp.RunID,
			"rows", resp.Rows,
			"inserted", resp.Inserted,
			"skipped", resp.Skipped)
	}
	c.JSON(status, resp)
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
