// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianLex/services/observability"
)

// =============================================================================
// Registry
// =============================================================================

// ClientConfig identifies one configured client.
type ClientConfig struct {
	Backend     Backend
	Model       string
	Temperature float32
	BaseURL     string
}

type registryKey struct {
	backend     Backend
	model       string
	temperature float32
}

// Factory builds a raw backend client.
type Factory func(cfg ClientConfig) (LLMClient, error)

// DefaultFactory builds OpenAI and Ollama clients.
func DefaultFactory(cfg ClientConfig) (LLMClient, error) {
	switch cfg.Backend {
	case BackendOpenAI:
		return NewOpenAIClient(cfg.Model, cfg.BaseURL)
	case BackendOllama:
		return NewOllamaClient(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

// Registry builds each distinct client once and hands out the same instance
// on every later request.
//
// # Description
//
// A client is identified by (backend, model, temperature). The returned
// client applies the temperature to calls that leave it unset, waits on a
// shared rate limiter when one is configured, and records a span and a
// latency observation per call.
//
// Construct one Registry at process start and pass it to consumers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	defaults ClientConfig
	factory  Factory
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[registryKey]LLMClient
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory replaces the backend factory.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithRateLimit limits calls across all clients to rps per second. Zero
// disables limiting.
func WithRateLimit(rps float64) RegistryOption {
	return func(r *Registry) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRegistryMetrics sets the metrics sink.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry whose zero-valued requests fall back to
// defaults.
func NewRegistry(defaults ClientConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults: defaults,
		factory:  DefaultFactory,
		logger:   slog.Default(),
		clients:  make(map[registryKey]LLMClient),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns the client for the default configuration.
func (r *Registry) Default() (LLMClient, error) {
	return r.Client(ClientConfig{})
}

// WithTemperature returns the default backend and model at temperature t.
func (r *Registry) WithTemperature(t float32) (LLMClient, error) {
	return r.Client(ClientConfig{Temperature: t})
}

// Client returns the client for cfg, building it on first use. Empty
// Backend, Model and BaseURL are taken from the defaults. A zero
// Temperature means the default temperature.
func (r *Registry) Client(cfg ClientConfig) (LLMClient, error) {
	if cfg.Backend == "" {
		cfg.Backend = r.defaults.Backend
	}
	if cfg.Model == "" {
		cfg.Model = r.defaults.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = r.defaults.BaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = r.defaults.Temperature
	}
	key := registryKey{backend: cfg.Backend, model: cfg.Model, temperature: cfg.Temperature}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	raw, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s client for %s: %w", cfg.Backend, cfg.Model, err)
	}
	var c LLMClient = &boundClient{
		inner:       raw,
		backend:     cfg.Backend,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		metrics:     r.metrics,
	}
	if r.limiter != nil {
		c = &RateLimited{inner: c, limiter: r.limiter}
	}
	r.clients[key] = c
	r.logger.Debug("Registered llm client", "backend", cfg.Backend, "model", cfg.Model, "temperature", cfg.Temperature)
	return c, nil
}

// =============================================================================
// Wrappers
// =============================================================================

// boundClient applies a fixed temperature and records telemetry.
type boundClient struct {
	inner       LLMClient
	backend     Backend
	model       string
	temperature float32
	metrics     *observability.Metrics
}

func (b *boundClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "LLM.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", string(b.backend)),
		attribute.String("llm.model", b.model),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	if params.Temperature == nil {
		params.Temperature = float32Ptr(b.temperature)
	}
	start := time.Now()
	out, err := b.inner.Generate(ctx, prompt, params)
	b.metrics.RecordLLM(string(b.backend), b.model, time.Since(start).Seconds(), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.completion_chars", len(out)))
	return out, nil
}

// RateLimited waits on a limiter before every call.
type RateLimited struct {
	inner   LLMClient
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with its own limiter.
func NewRateLimited(inner LLMClient, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Generate(ctx, prompt, params)
}
