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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLex/pkg/logging"
	"github.com/AleutianAI/AleutianLex/pkg/ux"
	"github.com/AleutianAI/AleutianLex/services/statute/article"
	"github.com/AleutianAI/AleutianLex/services/statute/category"
	"github.com/AleutianAI/AleutianLex/services/statute/indexer"
	"github.com/AleutianAI/AleutianLex/services/statute/penalty"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, CLIExitSuccess},
		{"findings", &findingsError{msg: "coverage gaps"}, CLIExitFindings},
		{"wrapped findings", fmt.Errorf("run: %w", &findingsError{msg: "x"}), CLIExitFindings},
		{"failure", errors.New("boom"), CLIExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestOutputResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, "index", time.Now(), []IndexResult{{Law: "근로기준법", OK: true}}, nil))

	var res CommandResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "index", res.Command)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)

	buf.Reset()
	require.NoError(t, outputResult(&buf, "index", time.Now(), nil, errors.New("version diff: boom")))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "version diff: boom", res.Error)
}

func TestOutputResult_CarriesLoggedWarnings(t *testing.T) {
	exp := logging.NewBufferedExporter(0)
	log := logging.New(logging.Config{Level: logging.LevelInfo, Quiet: true, Service: serviceName, Exporter: exp})
	t.Cleanup(func() {
		current = nil
		log.Close()
	})
	current = &app{log: log, logger: log.Slog(), captured: exp}

	current.logger.Info("Saved law index", "law", "근로기준법")
	current.logger.Warn("Index saved with coverage gap", "law", "근로기준법", "missing", 2)

	var buf bytes.Buffer
	require.NoError(t, outputResult(&buf, "index", time.Now(), nil, nil))
	var res CommandResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, []string{"Index saved with coverage gap law=근로기준법 missing=2"}, res.Warnings)
}

func TestIndexResults(t *testing.T) {
	report := indexer.RunReport{Results: []indexer.LawResult{
		{
			Law: "근로기준법",
			Build: &category.BuildReport{
				Law:         "근로기준법",
				ActArticles: 116,
				Corrected:   2,
				Linked:      map[article.Tier]int{article.Decree: 40},
			},
			Penalty:  penalty.Report{Links: 12},
			Ingested: true,
			Duration: 1500 * time.Millisecond,
		},
		{Law: "최저임금법", Err: errors.New("no act text")},
	}}

	got := indexResults(report)
	require.Len(t, got, 3)
	assert.Equal(t, IndexResult{
		Law:          "근로기준법",
		OK:           true,
		ActArticles:  116,
		Corrected:    2,
		Linked:       map[string]int{"Decree": 40},
		PenaltyLinks: 12,
		Ingested:     true,
		DurationMs:   1500,
	}, got[0])
	assert.False(t, got[1].OK)
	assert.Equal(t, "no act text", got[1].Error)
	assert.True(t, got[2].OK)
	assert.True(t, got[2].Removed)

	var buf bytes.Buffer
	printIndexReport(ux.NewPlainPrinter(&buf), report)
	assert.Equal(t,
		"OK: 근로기준법: 116 act articles, 2 corrected, 12 penalty links, ingested\n"+
			"ERROR: 최저임금법: no act text\n"+
			"WARN: 파견법: sources deleted, index entry removed\n",
		buf.String())

	buf.Reset()
	printIndexReport(ux.NewPlainPrinter(&buf), indexer.RunReport{Skipped: true})
	assert.Equal(t, "Sources unchanged, nothing to index\n", buf.String())
}

func TestCoverageResult(t *testing.T) {
	ok := coverageResult("근로기준법", category.Coverage{Total: 3}, nil)
	assert.True(t, ok.OK)

	gap := coverageResult("근로기준법", category.Coverage{
		Total:      3,
		Unmapped:   []string{"7"},
		Duplicated: map[string][]string{"2": {"wage", "hours"}},
	}, nil)
	assert.False(t, gap.OK)

	failed := coverageResult("최저임금법", category.Coverage{}, errors.New("law not indexed"))
	assert.False(t, failed.OK)

	var buf bytes.Buffer
	printCoverage(ux.NewPlainPrinter(&buf), []CoverageResult{ok, gap, failed})
	assert.Equal(t,
		"OK: 근로기준법: 3 articles, each in exactly one category\n"+
			"WARN: 근로기준법: 1 unmapped, 1 duplicated of 3\n"+
			"unmapped: 7\n"+
			"duplicated: 2 in wage, hours\n"+
			"ERROR: 최저임금법: law not indexed\n",
		buf.String())
}
