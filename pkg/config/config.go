// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the lexgraph YAML configuration.
//
// Values are resolved in three layers: Default(), then the YAML file, then
// LEX_* environment variables. The resulting Config is validated with
// go-playground/validator before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultLaw is the law assumed when nothing else is known, including the
// legacy single-law index migration.
const DefaultLaw = "근로기준법"

// Config is the root configuration document.
type Config struct {
	Data          DataConfig          `yaml:"data" validate:"required"`
	Indexer       IndexerConfig       `yaml:"indexer" validate:"required"`
	Investigation InvestigationConfig `yaml:"investigation" validate:"required"`
	LLM           LLMConfig           `yaml:"llm" validate:"required"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" validate:"required"`
	Session       SessionConfig       `yaml:"session"`
	Server        ServerConfig        `yaml:"server"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Log           LogConfig           `yaml:"log"`
}

// DataConfig locates statute sources and persisted artifacts.
type DataConfig struct {
	// LawsDir holds files named "{law}({법률|시행령|시행규칙}).md".
	LawsDir      string `yaml:"laws_dir" validate:"required"`
	IndexPath    string `yaml:"index_path" validate:"required"`
	VersionsPath string `yaml:"versions_path" validate:"required"`
	DefaultLaw   string `yaml:"default_law" validate:"required"`
}

// IndexerConfig tunes the category graph build.
type IndexerConfig struct {
	// VersionStrategy is "mtime" or "sha256".
	VersionStrategy string `yaml:"version_strategy" validate:"oneof=mtime sha256"`

	// MaxFallbackRounds bounds coverage correction.
	MaxFallbackRounds int `yaml:"max_fallback_rounds" validate:"min=1,max=10"`

	// PenaltyCutoffs maps law name to the first penalty article number.
	PenaltyCutoffs map[string]int `yaml:"penalty_cutoffs"`

	// FoundationalQueries maps law name to its foundational retrieval query.
	FoundationalQueries map[string]string `yaml:"foundational_queries"`

	ChunkSize      int `yaml:"chunk_size" validate:"min=100"`
	ChunkOverlap   int `yaml:"chunk_overlap" validate:"min=0"`
	EmbedWorkers   int `yaml:"embed_workers" validate:"min=1,max=64"`
	PromptMaxChars int `yaml:"prompt_max_chars" validate:"min=1000"`
}

// InvestigationConfig holds the state machine thresholds.
type InvestigationConfig struct {
	MergeThreshold    float64 `yaml:"merge_threshold" validate:"gt=0,lte=1"`
	FactThreshold     float64 `yaml:"fact_threshold" validate:"gt=0,lte=1"`
	NarrowingMinSet   int     `yaml:"narrowing_min_set" validate:"min=1"`
	NarrowingMaxDepth int     `yaml:"narrowing_max_depth" validate:"min=0"`
	CandidateK        int     `yaml:"candidate_k" validate:"min=1"`
	ContextK          int     `yaml:"context_k" validate:"min=1"`
}

// LLMConfig selects the reasoning backend.
type LLMConfig struct {
	Backend     string  `yaml:"backend" validate:"oneof=openai ollama"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	BaseURL     string  `yaml:"base_url"`

	// RequestsPerSecond limits calls per client; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// RetrievalConfig configures the Weaviate store and embeddings.
type RetrievalConfig struct {
	WeaviateHost   string `yaml:"weaviate_host" validate:"required"`
	WeaviateScheme string `yaml:"weaviate_scheme" validate:"oneof=http https"`
	ClassName      string `yaml:"class_name" validate:"required"`
	EmbeddingModel string `yaml:"embedding_model"`
	OllamaURL      string `yaml:"ollama_url"`
}

// SessionConfig configures the badger session store.
type SessionConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`

	// TTL expires idle sessions, e.g. "72h". Zero keeps them forever.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Data: DataConfig{
			LawsDir:      "data/laws",
			IndexPath:    "judgment/legal_index.json",
			VersionsPath: "judgment/law_versions.json",
			DefaultLaw:   DefaultLaw,
		},
		Indexer: IndexerConfig{
			VersionStrategy:   "mtime",
			MaxFallbackRounds: 3,
			PenaltyCutoffs:    map[string]int{DefaultLaw: 107},
			FoundationalQueries: map[string]string{
				DefaultLaw: DefaultLaw + " 총칙 및 적용범위(제1조~제14조)",
			},
			ChunkSize:      1000,
			ChunkOverlap:   100,
			EmbedWorkers:   4,
			PromptMaxChars: 90000,
		},
		Investigation: InvestigationConfig{
			MergeThreshold:    0.65,
			FactThreshold:     0.8,
			NarrowingMinSet:   5,
			NarrowingMaxDepth: 3,
			CandidateK:        15,
			ContextK:          10,
		},
		LLM: LLMConfig{
			Backend:     "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		Retrieval: RetrievalConfig{
			WeaviateHost:   "localhost:8080",
			WeaviateScheme: "http",
			ClassName:      "Statute",
			EmbeddingModel: "nomic-embed-text",
			OllamaURL:      "http://localhost:11434",
		},
		Session: SessionConfig{Path: "data/sessions"},
		Server:  ServerConfig{Addr: ":8088"},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New()

// Load reads path over Default(), applies environment overrides and
// validates the result. A missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes Default() to path unless the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// PenaltyCutoff returns the configured penalty cutoff for law, or 0.
func (c Config) PenaltyCutoff(law string) int {
	return c.Indexer.PenaltyCutoffs[law]
}

// FoundationalQuery returns the configured query for law, or the generic
// "총칙 및 적용범위" query.
func (c Config) FoundationalQuery(law string) string {
	if q, ok := c.Indexer.FoundationalQueries[law]; ok && q != "" {
		return q
	}
	return law + " 총칙 및 적용범위(제1조~제14조)"
}

func applyEnv(cfg *Config) {
	cfg.Data.LawsDir = getEnvString("LEX_LAWS_DIR", cfg.Data.LawsDir)
	cfg.Data.IndexPath = getEnvString("LEX_INDEX_PATH", cfg.Data.IndexPath)
	cfg.Data.VersionsPath = getEnvString("LEX_VERSIONS_PATH", cfg.Data.VersionsPath)
	cfg.Indexer.VersionStrategy = getEnvString("LEX_VERSION_STRATEGY", cfg.Indexer.VersionStrategy)
	cfg.LLM.Backend = getEnvString("LEX_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = getEnvString("LEX_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnvString("LEX_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.Retrieval.WeaviateHost = getEnvString("LEX_WEAVIATE_HOST", cfg.Retrieval.WeaviateHost)
	cfg.Session.Path = getEnvString("LEX_SESSION_PATH", cfg.Session.Path)
	cfg.Server.Addr = getEnvString("LEX_SERVER_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnvString("LEX_LOG_LEVEL", cfg.Log.Level)
	cfg.Investigation.NarrowingMaxDepth = getEnvInt("LEX_NARROWING_MAX_DEPTH", cfg.Investigation.NarrowingMaxDepth)
	cfg.Investigation.MergeThreshold = getEnvFloat("LEX_MERGE_THRESHOLD", cfg.Investigation.MergeThreshold)
	cfg.Investigation.FactThreshold = getEnvFloat("LEX_FACT_THRESHOLD", cfg.Investigation.FactThreshold)
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
