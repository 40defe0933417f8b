// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.Investigation.MergeThreshold)
	assert.Equal(t, 0.8, cfg.Investigation.FactThreshold)
	assert.Equal(t, 5, cfg.Investigation.NarrowingMinSet)
	assert.Equal(t, 3, cfg.Investigation.NarrowingMaxDepth)
	assert.Equal(t, 107, cfg.PenaltyCutoff(DefaultLaw))
	assert.Equal(t, 0, cfg.PenaltyCutoff("산업안전보건법"))
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lex.yaml")
	yml := `
data:
  laws_dir: /srv/laws
indexer:
  version_strategy: sha256
  penalty_cutoffs:
    최저임금법: 28
llm:
  backend: ollama
  model: llama3
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/laws", cfg.Data.LawsDir)
	assert.Equal(t, "judgment/legal_index.json", cfg.Data.IndexPath)
	assert.Equal(t, "sha256", cfg.Indexer.VersionStrategy)
	assert.Equal(t, 28, cfg.PenaltyCutoff("최저임금법"))
	assert.Equal(t, 107, cfg.PenaltyCutoff(DefaultLaw))
	assert.Equal(t, "ollama", cfg.LLM.Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEX_MERGE_THRESHOLD", "0.7")
	t.Setenv("LEX_NARROWING_MAX_DEPTH", "2")
	t.Setenv("LEX_LLM_BACKEND", "ollama")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Investigation.MergeThreshold)
	assert.Equal(t, 2, cfg.Investigation.NarrowingMaxDepth)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"unknown backend", "llm:\n  backend: bard\n"},
		{"unknown version strategy", "indexer:\n  version_strategy: git\n"},
		{"threshold above one", "investigation:\n  merge_threshold: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lex.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yml), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lex.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Data, cfg.Data)

	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: custom\n"), 0644))
	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom")
}

func TestFoundationalQuery(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "근로기준법 총칙 및 적용범위(제1조~제14조)", cfg.FoundationalQuery(DefaultLaw))
	assert.Equal(t, "최저임금법 총칙 및 적용범위(제1조~제14조)", cfg.FoundationalQuery("최저임금법"))
}
