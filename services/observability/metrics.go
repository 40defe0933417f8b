// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability defines the Prometheus metrics for indexing and
// consultation.
//
// All Record* methods are safe on a nil *Metrics, so components built in
// tests without metrics need no special casing.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian_lex"

const (
	indexerSubsystem       = "indexer"
	investigationSubsystem = "investigation"
	externalSubsystem      = "external"
)

// Metrics holds every collector lexgraph exports.
type Metrics struct {
	IndexBuildsTotal       *prometheus.CounterVec
	IndexBuildSeconds      *prometheus.HistogramVec
	CoverageGapArticles    *prometheus.GaugeVec
	FallbackCallsTotal     *prometheus.CounterVec
	ParseErrorsTotal       *prometheus.CounterVec
	PenaltyLinks           *prometheus.GaugeVec
	TurnsTotal             *prometheus.CounterVec
	MergeOutcomesTotal     *prometheus.CounterVec
	NarrowingResolutions   *prometheus.CounterVec
	LLMRequestSeconds      *prometheus.HistogramVec
	RetrievalRequestsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics registered with the default
// Prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IndexBuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "builds_total",
			Help:      "Law index builds by law and status",
		}, []string{"law", "status"}),

		IndexBuildSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "build_seconds",
			Help:      "Duration of a full law index build",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"law"}),

		CoverageGapArticles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "coverage_gap_articles",
			Help:      "Act articles left without a category after the last build",
		}, []string{"law"}),

		FallbackCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "fallback_calls_total",
			Help:      "Semantic fallback classification calls by tier and status",
		}, []string{"law", "tier", "status"}),

		ParseErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "parse_errors_total",
			Help:      "Article blocks skipped by the parser",
		}, []string{"law", "tier"}),

		PenaltyLinks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: indexerSubsystem,
			Name:      "penalty_links",
			Help:      "Penalty clause to category links in the last build",
		}, []string{"law"}),

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: investigationSubsystem,
			Name:      "turns_total",
			Help:      "Consultation turns by phase reached and outcome",
		}, []string{"phase", "outcome"}),

		MergeOutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: investigationSubsystem,
			Name:      "merge_outcomes_total",
			Help:      "Checklist merge decisions per proposed item",
		}, []string{"outcome"}),

		NarrowingResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: investigationSubsystem,
			Name:      "narrowing_resolutions_total",
			Help:      "Narrowing answers by resolution method",
		}, []string{"method"}),

		LLMRequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: externalSubsystem,
			Name:      "llm_request_seconds",
			Help:      "Reasoning service latency by backend, model and status",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"backend", "model", "status"}),

		RetrievalRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: externalSubsystem,
			Name:      "retrieval_requests_total",
			Help:      "Retrieval service calls by mode and status",
		}, []string{"mode", "status"}),
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordBuild records one finished law build.
func (m *Metrics) RecordBuild(law string, seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.IndexBuildsTotal.WithLabelValues(law, status(ok)).Inc()
	if ok {
		m.IndexBuildSeconds.WithLabelValues(law).Observe(seconds)
	}
}

// SetCoverageGap records how many Act articles stayed unmapped.
func (m *Metrics) SetCoverageGap(law string, missing int) {
	if m == nil {
		return
	}
	m.CoverageGapArticles.WithLabelValues(law).Set(float64(missing))
}

// RecordFallback records one semantic fallback call.
func (m *Metrics) RecordFallback(law, tier string, ok bool) {
	if m == nil {
		return
	}
	m.FallbackCallsTotal.WithLabelValues(law, tier, status(ok)).Inc()
}

// AddParseErrors records skipped article blocks.
func (m *Metrics) AddParseErrors(law, tier string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ParseErrorsTotal.WithLabelValues(law, tier).Add(float64(n))
}

// SetPenaltyLinks records the penalty links of the last build.
func (m *Metrics) SetPenaltyLinks(law string, n int) {
	if m == nil {
		return
	}
	m.PenaltyLinks.WithLabelValues(law).Set(float64(n))
}

// RecordTurn records a consultation turn.
func (m *Metrics) RecordTurn(phase, outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(phase, outcome).Inc()
}

// RecordMerge records one checklist merge decision: "inserted", "updated" or
// "kept".
func (m *Metrics) RecordMerge(outcome string) {
	if m == nil {
		return
	}
	m.MergeOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordNarrowing records how a narrowing answer was resolved.
func (m *Metrics) RecordNarrowing(method string) {
	if m == nil {
		return
	}
	m.NarrowingResolutions.WithLabelValues(method).Inc()
}

// RecordLLM records one reasoning service call.
func (m *Metrics) RecordLLM(backend, model string, seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.LLMRequestSeconds.WithLabelValues(backend, model, status(ok)).Observe(seconds)
}

// RecordRetrieval records one retrieval call; mode is "exact" or "similarity".
func (m *Metrics) RecordRetrieval(mode string, ok bool) {
	if m == nil {
		return
	}
	m.RetrievalRequestsTotal.WithLabelValues(mode, status(ok)).Inc()
}
