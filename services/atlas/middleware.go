// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atlas

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig controls the token bucket applied to mutating routes.
// Pipeline stages are CPU-heavy, so the defaults are deliberately low.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimitConfig returns limits suitable for a single-tenant
// deployment: two pipeline mutations per second with a burst of five.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 2,
		Burst:             5,
	}
}

// RateLimitMiddleware returns a gin middleware enforcing a shared token
// bucket. Requests that find the bucket empty are rejected immediately
// with 429 rather than queued, since a queued graph build would hold the
// connection open for seconds.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded, retry later",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
