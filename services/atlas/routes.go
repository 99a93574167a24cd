// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atlas

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all atlas routes with the router group.
//
// Pipeline endpoints:
//
//	POST /v1/atlas/graph                      - Build the similarity graph
//	GET  /v1/atlas/graph/stats                - Graph shape statistics
//	POST /v1/atlas/communities/detect         - Run community detection
//	POST /v1/atlas/communities/analyze        - Aggregate cluster statistics
//	GET  /v1/atlas/communities/:id/members    - Cluster member accessions
//	GET  /v1/atlas/communities/:id/vocabulary - Cluster EC vocabulary
//	POST /v1/atlas/communities/:id/labels     - Manual label override
//	POST /v1/atlas/labels/propagate           - Apply an inference policy
//	POST /v1/atlas/labels/compare             - Compare both policies
//	POST /v1/atlas/pipeline                   - Full build→detect→analyze→propagate run
//
// Health endpoints:
//
//	GET  /v1/atlas/health - Health check
//	GET  /v1/atlas/ready  - Readiness check
//
// The mutate limiter, when non-nil, throttles the pipeline-mutating
// endpoints; read endpoints are never throttled.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, mutateLimit gin.HandlerFunc) {
	atlas := rg.Group("/atlas")
	{
		mutate := atlas.Group("")
		if mutateLimit != nil {
			mutate.Use(mutateLimit)
		}
		mutate.POST("/graph", handlers.HandleBuildGraph)
		mutate.POST("/communities/detect", handlers.HandleDetect)
		mutate.POST("/communities/analyze", handlers.HandleAnalyze)
		mutate.POST("/communities/:id/labels", handlers.HandleOverride)
		mutate.POST("/labels/propagate", handlers.HandlePropagate)
		mutate.POST("/pipeline", handlers.HandlePipeline)

		atlas.GET("/graph/stats", handlers.HandleGraphStats)
		atlas.GET("/communities/:id/members", handlers.HandleClusterMembers)
		atlas.GET("/communities/:id/vocabulary", handlers.HandleClusterVocabulary)
		atlas.POST("/labels/compare", handlers.HandleCompare)

		atlas.GET("/health", handlers.HandleHealth)
		atlas.GET("/ready", handlers.HandleReady)
	}
}
