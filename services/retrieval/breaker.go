// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreUnavailable is returned when the vector store is not reachable.
	ErrStoreUnavailable = errors.New("vector store is not available")

	// ErrCircuitOpen is returned while the breaker blocks requests.
	ErrCircuitOpen = errors.New("circuit breaker is open, vector store requests blocked")

	// ErrStoreTimeout is returned when a request times out.
	ErrStoreTimeout = errors.New("vector store timeout")

	// ErrBreakerClosed is returned after Close.
	ErrBreakerClosed = errors.New("breaker is closed")
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState is the breaker's view of the store.
type ConnectionState int32

const (
	StateConnected ConnectionState = iota
	StateDegraded
	StateCircuitOpen
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

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// BreakerConfig tunes retries and the circuit breaker.
type BreakerConfig struct {
	// RetryAttempts is the number of retries after the first attempt.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the base backoff, doubled per attempt.
	// Default: 100ms
	RetryBackoff time.Duration

	// Default: 5s
	MaxRetryBackoff time.Duration

	// RetryJitter is the ± fraction applied to each backoff.
	// Default: 0.25
	RetryJitter float64

	// CircuitThreshold failures within CircuitWindow open the circuit.
	// Default: 5
	CircuitThreshold int

	// Default: 30s
	CircuitWindow time.Duration

	// CircuitCooldown is how long the circuit stays open before one probe
	// request is let through.
	// Default: 30s
	CircuitCooldown time.Duration

	// Default: 10s connected, 5s degraded
	HealthCheckInterval   time.Duration
	DegradedCheckInterval time.Duration

	// Default: 5s
	HealthCheckTimeout time.Duration

	Logger *slog.Logger
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
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

// Validate checks the configuration.
func (c *BreakerConfig) Validate() error {
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

func (c *BreakerConfig) applyDefaults() {
	d := DefaultBreakerConfig()
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

// -----------------------------------------------------------------------------
// Breaker
// -----------------------------------------------------------------------------

// Breaker guards calls to the vector store with retries and a circuit
// breaker, and probes the store in the background.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Breaker struct {
	probe  func(ctx context.Context) error
	config BreakerConfig
	logger *slog.Logger

	state           atomic.Int32
	circuitOpenTime atomic.Int64
	closed          atomic.Bool
	halfOpenTest    atomic.Bool

	// ring buffer of failure timestamps
	failures   []time.Time
	failureIdx int
	failureMu  sync.Mutex

	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
}

// NewBreaker creates a breaker. probe reports whether the store is ready.
// The breaker starts degraded until the first successful probe or call.
func NewBreaker(config BreakerConfig, probe func(ctx context.Context) error) (*Breaker, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	healthCtx, healthCancel := context.WithCancel(context.Background())
	b := &Breaker{
		probe:        probe,
		config:       config,
		logger:       config.Logger.With(slog.String("component", "vector_store")),
		failures:     make([]time.Time, config.CircuitThreshold),
		healthCtx:    healthCtx,
		healthCancel: healthCancel,
	}
	b.state.Store(int32(StateDegraded))
	return b, nil
}

// Start runs one probe and then keeps probing in the background. A failed
// first probe leaves the breaker degraded and is returned for logging.
func (b *Breaker) Start(ctx context.Context) error {
	err := b.checkHealth(ctx)
	if err == nil {
		b.transitionState(StateConnected)
	}
	b.healthWg.Add(1)
	go b.runHealthChecker()
	return err
}

// IsAvailable reports whether requests are currently let through.
func (b *Breaker) IsAvailable() bool {
	s := b.GetState()
	return s == StateConnected || s == StateHalfOpen
}

// GetState returns the current state.
func (b *Breaker) GetState() ConnectionState {
	return ConnectionState(b.state.Load())
}

// Execute runs fn with retry and circuit breaker protection.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	op - Operation name, used in the span.
//	fn - The store call.
//
// Outputs:
//
//	error - Non-nil if all retries fail or the circuit is open.
func (b *Breaker) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if b.closed.Load() {
		return ErrBreakerClosed
	}

	ctx, span := tracer.Start(ctx, "VectorStore."+op,
		trace.WithAttributes(attribute.String("state", b.GetState().String())))
	defer span.End()

	switch b.GetState() {
	case StateCircuitOpen:
		if !b.shouldTryHalfOpen() {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
		b.transitionState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if !b.halfOpenTest.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "circuit open (half-open busy)")
			return ErrCircuitOpen
		}
		defer b.halfOpenTest.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= b.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := b.calculateBackoff(attempt)
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

		lastErr = fn(ctx)
		if lastErr == nil {
			b.recordSuccess()
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	b.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries failed")
	return wrapStoreError(lastErr)
}

// Close stops the health checker. Idempotent.
func (b *Breaker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.healthCancel()
	b.healthWg.Wait()
	return nil
}

func (b *Breaker) transitionState(next ConnectionState) {
	prev := ConnectionState(b.state.Swap(int32(next)))
	if prev == next {
		return
	}
	b.logger.Info("vector store state transition",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))
}

func (b *Breaker) checkHealth(ctx context.Context) error {
	if b.probe == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.HealthCheckTimeout)
	defer cancel()
	if err := b.probe(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (b *Breaker) runHealthChecker() {
	defer b.healthWg.Done()
	for {
		interval := b.config.HealthCheckInterval
		if !b.IsAvailable() {
			interval = b.config.DegradedCheckInterval
		}
		select {
		case <-b.healthCtx.Done():
			return
		case <-time.After(interval):
			b.performHealthCheck()
		}
	}
}

func (b *Breaker) performHealthCheck() {
	err := b.checkHealth(b.healthCtx)
	current := b.GetState()
	if err == nil {
		switch current {
		case StateDegraded, StateHalfOpen:
			b.transitionState(StateConnected)
			b.resetFailures()
		case StateCircuitOpen:
			if b.shouldTryHalfOpen() {
				b.transitionState(StateHalfOpen)
			}
		}
		return
	}
	if current == StateConnected {
		b.transitionState(StateDegraded)
	}
}

func (b *Breaker) recordSuccess() {
	switch b.GetState() {
	case StateHalfOpen, StateDegraded:
		b.transitionState(StateConnected)
		b.resetFailures()
	}
}

func (b *Breaker) recordFailure() {
	b.failureMu.Lock()
	defer b.failureMu.Unlock()

	now := time.Now()
	b.failures[b.failureIdx] = now
	b.failureIdx = (b.failureIdx + 1) % len(b.failures)

	windowStart := now.Add(-b.config.CircuitWindow)
	count := 0
	for _, t := range b.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}

	if count >= b.config.CircuitThreshold {
		if b.GetState() != StateCircuitOpen {
			b.circuitOpenTime.Store(now.UnixNano())
			b.transitionState(StateCircuitOpen)
			b.logger.Warn("circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", b.config.CircuitWindow))
		}
	} else if b.GetState() == StateConnected {
		b.transitionState(StateDegraded)
	}
}

func (b *Breaker) resetFailures() {
	b.failureMu.Lock()
	defer b.failureMu.Unlock()
	for i := range b.failures {
		b.failures[i] = time.Time{}
	}
	b.failureIdx = 0
}

func (b *Breaker) shouldTryHalfOpen() bool {
	openTime := time.Unix(0, b.circuitOpenTime.Load())
	return time.Since(openTime) >= b.config.CircuitCooldown
}

// calculateBackoff returns base*2^attempt capped at the maximum, with jitter.
func (b *Breaker) calculateBackoff(attempt int) time.Duration {
	backoff := b.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > b.config.MaxRetryBackoff {
		backoff = b.config.MaxRetryBackoff
	}
	jitterRange := float64(backoff) * b.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = b.config.RetryBackoff
	}
	return backoff
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// net.OpError implements net.Error, so check it first.
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

func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return fmt.Errorf("vector store error: %w", err)
}
