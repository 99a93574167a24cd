// Copyright (C) 2025 EnzyGraph
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package weaviate provides a resilient Weaviate client backing the
// delegated similarity mode.
//
// The client layers a circuit breaker, exponential backoff with
// jitter, and adaptive health checking over the plain Weaviate client.
// When Weaviate is unavailable the pipeline degrades to the exact
// similarity builder instead of failing.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrUnavailable is returned when Weaviate is not reachable.
	ErrUnavailable = errors.New("weaviate is not available")

	// ErrCircuitOpen is returned while the circuit breaker blocks requests.
	ErrCircuitOpen = errors.New("circuit breaker is open, weaviate requests blocked")

	// ErrTimeout is returned when a request or connection times out.
	ErrTimeout = errors.New("weaviate connection timeout")

	// ErrClientClosed is returned for operations on a closed client.
	ErrClientClosed = errors.New("weaviate client is closed")
)

// ConnectionState is the client's view of the Weaviate connection.
type ConnectionState int32

const (
	// StateConnected indicates normal operation.
	StateConnected ConnectionState = iota
	// StateDegraded indicates Weaviate is unreachable but the client keeps probing.
	StateDegraded
	// StateCircuitOpen indicates requests are blocked after repeated failures.
	StateCircuitOpen
	// StateHalfOpen indicates a single probe request is testing recovery.
	StateHalfOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateCircuitOpen:
		return "circuit_open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the resilient client.
type Config struct {
	// URL is the Weaviate server URL, e.g. "http://localhost:8080".
	URL string

	// RetryAttempts is the number of retries per request. Default: 3
	RetryAttempts int

	// RetryBackoff is the initial retry delay. Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s
	MaxRetryBackoff time.Duration

	// RetryJitter randomizes backoff by this fraction (0.0-1.0). Default: 0.25
	RetryJitter float64

	// CircuitThreshold opens the circuit after this many failures
	// within CircuitWindow. Default: 5
	CircuitThreshold int

	// CircuitWindow is the failure counting window. Default: 30s
	CircuitWindow time.Duration

	// CircuitCooldown is how long the circuit stays open before a
	// half-open probe. Default: 30s
	CircuitCooldown time.Duration

	// HealthCheckInterval applies while connected. Default: 10s
	HealthCheckInterval time.Duration

	// DegradedCheckInterval applies while degraded. Default: 5s
	DegradedCheckInterval time.Duration

	// HealthCheckTimeout bounds a single health probe. Default: 5s
	HealthCheckTimeout time.Duration

	// AllowStartDegraded lets the client start while Weaviate is down.
	AllowStartDegraded bool

	// Logger for client events. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:         3,
		RetryBackoff:          100 * time.Millisecond,
		MaxRetryBackoff:       5 * time.Second,
		RetryJitter:           0.25,
		CircuitThreshold:      5,
		CircuitWindow:         30 * time.Second,
		CircuitCooldown:       30 * time.Second,
		HealthCheckInterval:   10 * time.Second,
		DegradedCheckInterval: 5 * time.Second,
		HealthCheckTimeout:    5 * time.Second,
		Logger:                slog.Default(),
	}
}

// Validate rejects invalid configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.RetryBackoff < 0 {
		return errors.New("retry_backoff must be non-negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("retry_jitter must be between 0 and 1")
	}
	if c.CircuitThreshold < 1 {
		return errors.New("circuit_threshold must be at least 1")
	}
	if c.CircuitWindow <= 0 {
		return errors.New("circuit_window must be positive")
	}
	if c.HealthCheckTimeout <= 0 {
		return errors.New("health_check_timeout must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = d.RetryJitter
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = d.CircuitWindow
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.DegradedCheckInterval == 0 {
		c.DegradedCheckInterval = d.DegradedCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}

// ResilientClient wraps the Weaviate client with retry, circuit
// breaking, and health monitoring.
//
// Thread Safety: safe for concurrent use.
type ResilientClient struct {
	client *weaviate.Client
	config Config
	logger *slog.Logger

	state           atomic.Int32
	circuitOpenTime atomic.Int64
	closed          atomic.Bool

	// Sliding window of failure timestamps.
	failures   []time.Time
	failureIdx int
	failureMu  sync.Mutex

	// Only one probe request is allowed while half-open.
	halfOpenTest atomic.Bool

	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup

	handlers   []DegradationHandler
	handlersMu sync.RWMutex
}

// NewResilientClient creates and connects a resilient client.
//
// Outputs:
//
//   - *ResilientClient: Ready client, possibly in degraded state when
//     AllowStartDegraded is set.
//   - error: Invalid config, or Weaviate unreachable without
//     AllowStartDegraded.
func NewResilientClient(config Config) (*ResilientClient, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := weaviate.Config{Host: config.URL, Scheme: "http"}
	if strings.HasPrefix(config.URL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(config.URL, "https://")
	} else if strings.HasPrefix(config.URL, "http://") {
		cfg.Host = strings.TrimPrefix(config.URL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	rc := &ResilientClient{
		client:       client,
		config:       config,
		logger:       config.Logger.With(slog.String("component", "weaviate_client")),
		failures:     make([]time.Time, config.CircuitThreshold),
		healthCtx:    healthCtx,
		healthCancel: healthCancel,
	}
	rc.state.Store(int32(StateDegraded))

	if err := rc.checkHealth(context.Background()); err != nil {
		if !config.AllowStartDegraded {
			healthCancel()
			return nil, fmt.Errorf("weaviate not available: %w", err)
		}
		rc.logger.Warn("weaviate unavailable at startup, starting degraded",
			slog.String("url", config.URL),
			slog.String("error", err.Error()))
	} else {
		rc.transitionState(StateConnected)
	}

	rc.healthWg.Add(1)
	go rc.runHealthChecker()

	rc.logger.Info("weaviate client initialized",
		slog.String("url", config.URL),
		slog.String("state", rc.State().String()))
	return rc, nil
}

// Client exposes the underlying Weaviate client for direct operations.
func (c *ResilientClient) Client() *weaviate.Client {
	return c.client
}

// IsAvailable reports whether requests can currently be served.
func (c *ResilientClient) IsAvailable() bool {
	s := c.State()
	return s == StateConnected || s == StateHalfOpen
}

// IsDegraded reports whether the client is operating with reduced
// functionality.
func (c *ResilientClient) IsDegraded() bool {
	s := c.State()
	return s == StateDegraded || s == StateCircuitOpen
}

// State returns the current connection state.
func (c *ResilientClient) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// RegisterHandler subscribes a degradation handler. A handler
// registered while degraded is notified immediately.
func (c *ResilientClient) RegisterHandler(handler DegradationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
	if c.IsDegraded() {
		handler.OnDegraded("initial state: weaviate unavailable")
	}
}

// Execute runs fn with retry and circuit breaker protection.
func (c *ResilientClient) Execute(ctx context.Context, fn func() error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	ctx, span := otel.Tracer("atlas.weaviate").Start(ctx, "weaviate.Execute",
		trace.WithAttributes(attribute.String("state", c.State().String())),
	)
	defer span.End()

	switch c.State() {
	case StateCircuitOpen:
		if !c.shouldTryHalfOpen() {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
		c.transitionState(StateHalfOpen)
	case StateHalfOpen:
		if !c.halfOpenTest.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "circuit open (half-open busy)")
			return ErrCircuitOpen
		}
		defer c.halfOpenTest.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", backoff.Milliseconds()),
			))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			c.recordSuccess()
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	c.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries failed")
	return wrapError(lastErr)
}

// WaitForReady blocks until Weaviate answers a health probe or the
// timeout expires.
func (c *ResilientClient) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("weaviate not ready within %v: %w", timeout, ErrUnavailable)
		case <-ticker.C:
			if c.checkHealth(ctx) == nil {
				return nil
			}
		}
	}
}

// Close stops the health checker. Safe to call multiple times.
func (c *ResilientClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Info("closing weaviate client")
	c.healthCancel()
	c.healthWg.Wait()
	return nil
}

func (c *ResilientClient) transitionState(newState ConnectionState) {
	oldState := ConnectionState(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	c.logger.Info("weaviate state transition",
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()))

	c.handlersMu.RLock()
	handlers := c.handlers
	c.handlersMu.RUnlock()

	wasDegraded := oldState == StateDegraded || oldState == StateCircuitOpen
	isDegraded := newState == StateDegraded || newState == StateCircuitOpen
	if !wasDegraded && isDegraded {
		for _, h := range handlers {
			h.OnDegraded(fmt.Sprintf("state changed to %s", newState.String()))
		}
	} else if wasDegraded && !isDegraded {
		for _, h := range handlers {
			h.OnRecovered()
		}
	}
}

func (c *ResilientClient) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthCheckTimeout)
	defer cancel()

	ready, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !ready {
		return ErrUnavailable
	}
	return nil
}

func (c *ResilientClient) runHealthChecker() {
	defer c.healthWg.Done()

	for {
		interval := c.config.HealthCheckInterval
		if c.IsDegraded() {
			interval = c.config.DegradedCheckInterval
		}

		select {
		case <-c.healthCtx.Done():
			return
		case <-time.After(interval):
			c.performHealthCheck()
		}
	}
}

func (c *ResilientClient) performHealthCheck() {
	err := c.checkHealth(c.healthCtx)
	state := c.State()

	if err == nil {
		switch state {
		case StateDegraded, StateHalfOpen:
			c.transitionState(StateConnected)
			c.resetFailures()
		case StateCircuitOpen:
			// Recovery always passes through half-open.
			if c.shouldTryHalfOpen() {
				c.transitionState(StateHalfOpen)
			}
		}
	} else if state == StateConnected {
		c.transitionState(StateDegraded)
	}
}

func (c *ResilientClient) recordSuccess() {
	if c.State() == StateHalfOpen {
		c.transitionState(StateConnected)
		c.resetFailures()
	}
}

func (c *ResilientClient) recordFailure() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()

	now := time.Now()
	c.failures[c.failureIdx] = now
	c.failureIdx = (c.failureIdx + 1) % len(c.failures)

	windowStart := now.Add(-c.config.CircuitWindow)
	count := 0
	for _, t := range c.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}

	if count >= c.config.CircuitThreshold {
		if c.State() != StateCircuitOpen {
			c.circuitOpenTime.Store(now.Unix())
			c.transitionState(StateCircuitOpen)
			c.logger.Warn("circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", c.config.CircuitWindow))
		}
	} else if c.State() == StateConnected {
		c.transitionState(StateDegraded)
	}
}

func (c *ResilientClient) resetFailures() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	for i := range c.failures {
		c.failures[i] = time.Time{}
	}
	c.failureIdx = 0
}

func (c *ResilientClient) shouldTryHalfOpen() bool {
	openTime := time.Unix(c.circuitOpenTime.Load(), 0)
	return time.Since(openTime) >= c.config.CircuitCooldown
}

func (c *ResilientClient) calculateBackoff(attempt int) time.Duration {
	backoff := c.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > c.config.MaxRetryBackoff {
		backoff = c.config.MaxRetryBackoff
	}
	jitterRange := float64(backoff) * c.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = c.config.RetryBackoff
	}
	return backoff
}

// isRetryable treats network-level failures as transient and
// application errors as final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("weaviate error: %w", err)
}
