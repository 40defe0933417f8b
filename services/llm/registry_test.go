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
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/services/observability"
)

func countingFactory(built *[]ClientConfig, stubs map[float32]*stubClient) Factory {
	return func(cfg ClientConfig) (LLMClient, error) {
		*built = append(*built, cfg)
		s := &stubClient{out: "ok"}
		stubs[cfg.Temperature] = s
		return s, nil
	}
}

func TestRegistry_BuildsOncePerKey(t *testing.T) {
	var built []ClientConfig
	stubs := map[float32]*stubClient{}
	r := NewRegistry(ClientConfig{Backend: BackendOpenAI, Model: "gpt-4o-mini", Temperature: 0.1},
		WithFactory(countingFactory(&built, stubs)))

	a, err := r.Default()
	require.NoError(t, err)
	b, err := r.Client(ClientConfig{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.WithTemperature(0.7)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	require.Len(t, built, 2)
	assert.Equal(t, BackendOpenAI, built[1].Backend)

	_, err = c.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	require.NotNil(t, stubs[0.7].params.Temperature)
	assert.Equal(t, float32(0.7), *stubs[0.7].params.Temperature)

	explicit := float32(0.0)
	_, err = a.Generate(context.Background(), "p", GenerationParams{Temperature: &explicit})
	require.NoError(t, err)
	assert.Equal(t, float32(0), *stubs[0.1].params.Temperature, "caller temperature wins")
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(ClientConfig{Backend: "claude"})
	_, err := r.Default()
	assert.ErrorContains(t, err, "unknown llm backend")

	calls := 0
	r = NewRegistry(ClientConfig{Backend: BackendOllama}, WithFactory(func(ClientConfig) (LLMClient, error) {
		calls++
		return nil, errors.New("unreachable")
	}))
	_, err = r.Default()
	require.Error(t, err)
	_, err = r.Default()
	require.Error(t, err)
	assert.Equal(t, 2, calls, "failed builds are not cached")
}

func TestRegistry_RecordsMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	fail := &stubClient{err: errors.New("503")}
	r := NewRegistry(ClientConfig{Backend: BackendOllama, Model: "qwen"},
		WithRegistryMetrics(m),
		WithFactory(func(ClientConfig) (LLMClient, error) { return fail, nil }))

	c, err := r.Default()
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "p", GenerationParams{})
	require.Error(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m.LLMRequestSeconds))
}

func TestRateLimited(t *testing.T) {
	inner := &stubClient{out: "ok"}
	rl := NewRateLimited(inner, 1000, 1)

	out, err := rl.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	slow := NewRateLimited(inner, 0.001, 1)
	_, err = slow.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err, "burst allows the first call")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = slow.Generate(ctx, "p", GenerationParams{})
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestRegistry_SharedLimiter(t *testing.T) {
	r := NewRegistry(ClientConfig{Backend: BackendOpenAI, Model: "m"},
		WithRateLimit(5),
		WithFactory(func(ClientConfig) (LLMClient, error) { return &stubClient{out: "ok"}, nil }))
	c, err := r.Default()
	require.NoError(t, err)
	_, ok := c.(*RateLimited)
	assert.True(t, ok)
}
