// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/AleutianAI/AleutianLex/pkg/config"
	"github.com/AleutianAI/AleutianLex/pkg/logging"
	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/api"
	"github.com/AleutianAI/AleutianLex/services/investigation"
	"github.com/AleutianAI/AleutianLex/services/investigation/session"
	"github.com/AleutianAI/AleutianLex/services/llm"
	"github.com/AleutianAI/AleutianLex/services/observability"
	"github.com/AleutianAI/AleutianLex/services/retrieval"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
	"github.com/AleutianAI/AleutianLex/services/statute/indexer"
	"github.com/AleutianAI/AleutianLex/services/statute/store"
	"github.com/AleutianAI/AleutianLex/services/statute/version"
)

const serviceName = "lexgraph"

// app holds what a command needs, built lazily so "coverage" never dials
// the model and "index --no-ingest" never dials Weaviate.
type app struct {
	cfg     config.Config
	log     *logging.Logger
	logger  *slog.Logger
	metrics *observability.Metrics

	// captured holds log entries for the --json result.
	captured *logging.BufferedExporter

	shutdownTelemetry func(context.Context) error

	registry *llm.Registry
	store    *store.Store
	vectors  *retrieval.WeaviateStore
	embedder embeddings.Embedder
	sessions *session.Store
}

var current *app

// setup loads configuration and starts logging and telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	var captured *logging.BufferedExporter
	var exporter logging.LogExporter
	if jsonOutput {
		captured = logging.NewBufferedExporter(0)
		exporter = captured
	}
	log := logging.New(logging.Config{
		Level:    logging.ParseLevel(cfg.Log.Level),
		LogDir:   cfg.Log.Dir,
		Service:  serviceName,
		JSON:     cfg.Log.JSON,
		Exporter: exporter,
	})
	slog.SetDefault(log.Slog())

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: api.ServiceVersion,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		log.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}

	current = &app{
		cfg:               cfg,
		log:               log,
		logger:            log.Slog(),
		metrics:           observability.Default(),
		captured:          captured,
		shutdownTelemetry: shutdown,
	}
	return nil
}

// warnings returns the warnings and errors logged so far in --json mode.
func (a *app) warnings() []string {
	if a == nil || a.captured == nil {
		return nil
	}
	return a.captured.Messages(logging.LevelWarn)
}

// teardown releases everything setup and the command opened.
func teardown(cmd *cobra.Command, _ []string) error {
	if current == nil {
		return nil
	}
	err := current.close(context.WithoutCancel(cmd.Context()))
	current = nil
	return err
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	errs = append(errs, a.log.Close())
	return errors.Join(errs...)
}

func (a *app) llmRegistry() *llm.Registry {
	if a.registry == nil {
		a.registry = llm.NewRegistry(llm.ClientConfig{
			Backend:     llm.Backend(a.cfg.LLM.Backend),
			Model:       a.cfg.LLM.Model,
			Temperature: a.cfg.LLM.Temperature,
			BaseURL:     a.cfg.LLM.BaseURL,
		},
			llm.WithRateLimit(a.cfg.LLM.RequestsPerSecond),
			llm.WithRegistryMetrics(a.metrics),
			llm.WithRegistryLogger(a.logger),
		)
	}
	return a.registry
}

func (a *app) indexStore() *store.Store {
	if a.store == nil {
		a.store = store.New(a.cfg.Data.IndexPath,
			store.WithDefaultLaw(a.cfg.Data.DefaultLaw),
			store.WithLogger(a.logger))
	}
	return a.store
}

// vectorStore connects to Weaviate and the embedding model. Weaviate being
// down is not an error here; the store starts degraded and recovers.
func (a *app) vectorStore(ctx context.Context) (*retrieval.WeaviateStore, embeddings.Embedder, error) {
	if a.vectors != nil {
		return a.vectors, a.embedder, nil
	}
	r := a.cfg.Retrieval
	emb, err := retrieval.NewOllamaEmbedder(r.EmbeddingModel, r.OllamaURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create embedder: %w", err)
	}
	vs, err := retrieval.NewWeaviateStore(ctx, retrieval.WeaviateConfig{
		Host:      r.WeaviateHost,
		Scheme:    r.WeaviateScheme,
		ClassName: r.ClassName,
		Breaker:   retrieval.DefaultBreakerConfig(),
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect weaviate: %w", err)
	}
	a.vectors, a.embedder = vs, emb
	return vs, emb, nil
}

// indexerOptions selects which collaborators an Indexer gets.
type indexerOptions struct {
	classify bool
	ingest   bool
}

func (a *app) newIndexer(ctx context.Context, o indexerOptions) (*indexer.Indexer, error) {
	strategy, err := version.ParseStrategy(a.cfg.Indexer.VersionStrategy)
	if err != nil {
		return nil, err
	}
	tracker := version.NewTracker(a.cfg.Data.LawsDir, a.cfg.Data.VersionsPath, strategy, a.logger)

	var classifier category.Classifier
	if o.classify {
		client, err := a.llmRegistry().Default()
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		classifier = category.NewLLMClassifier(client, a.cfg.Indexer.PromptMaxChars, a.logger)
	}

	var ingester indexer.Ingester
	if o.ingest {
		vs, emb, err := a.vectorStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := vs.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		ix := a.cfg.Indexer
		ingester = retrieval.NewIngester(emb, vs, ix.ChunkSize, ix.ChunkOverlap, ix.EmbedWorkers, a.logger)
	}

	return indexer.New(indexer.Options{
		LawsDir:           a.cfg.Data.LawsDir,
		MaxFallbackRounds: a.cfg.Indexer.MaxFallbackRounds,
		PenaltyCutoff:     a.cfg.PenaltyCutoff,
		FoundationalQuery: a.cfg.FoundationalQuery,
		Metrics:           a.metrics,
		Logger:            a.logger,
	}, tracker, a.indexStore(), classifier, ingester), nil
}

// newEngine builds the investigation engine. Without a reachable vector
// store it runs with the index alone.
func (a *app) newEngine(ctx context.Context) (*investigation.Engine, error) {
	client, err := a.llmRegistry().Default()
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	var retriever retrieval.Retriever
	if vs, emb, err := a.vectorStore(ctx); err != nil {
		a.logger.Warn("Vector retrieval disabled", "error", err)
	} else {
		retriever = retrieval.NewVectorRetriever(emb, vs, a.metrics, a.logger)
	}

	inv := a.cfg.Investigation
	cfg := investigation.Config{
		DefaultLaw:        a.cfg.Data.DefaultLaw,
		MergeThreshold:    inv.MergeThreshold,
		FactThreshold:     inv.FactThreshold,
		NarrowingMinSet:   inv.NarrowingMinSet,
		NarrowingMaxDepth: inv.NarrowingMaxDepth,
		CandidateK:        inv.CandidateK,
		ContextK:          inv.ContextK,
	}
	return investigation.NewEngine(client, retriever, store.NewReader(a.indexStore()), cfg,
		investigation.WithMetrics(a.metrics),
		investigation.WithLogger(a.logger),
	), nil
}

func (a *app) sessionStore() (*session.Store, error) {
	if a.sessions != nil {
		return a.sessions, nil
	}
	cfg := session.DefaultConfig(a.cfg.Session.Path)
	if a.cfg.Session.InMemory {
		cfg = session.InMemoryConfig()
	}
	cfg.TTL = a.cfg.Session.TTL
	cfg.Logger = a.logger
	s, err := session.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.sessions = s
	return s, nil
}
