// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "indexer", Quiet: true})
	logger.Info("build complete", "law", "근로기준법", "categories", 14)
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "indexer_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"build complete"`)
	assert.Contains(t, string(data), `"service":"indexer"`)
}

func TestNew_InvalidLogDirFallsBackToStderr(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	logger := New(Config{LogDir: filepath.Join(file, "logs"), Quiet: true})
	assert.Nil(t, logger.file)
	assert.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

func TestLogger_ExporterReceivesAttrs(t *testing.T) {
	exp := NewBufferedExporter(10)
	logger := New(Config{Level: LevelInfo, Quiet: true, Service: "consult", Exporter: exp})

	child := logger.With("session_id", "s-1")
	child.Debug("dropped by level")
	child.Warn("narrowing answer unresolved", "depth", 1)

	entries := exp.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.Equal(t, "consult", entries[0].Service)
	assert.Equal(t, "s-1", entries[0].Attrs["session_id"])
	assert.Equal(t, int64(1), entries[0].Attrs["depth"])

	require.NoError(t, logger.Close())
	assert.Empty(t, exp.Entries())
}

func TestBufferedExporter_EvictsOldest(t *testing.T) {
	exp := NewBufferedExporter(2)
	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, exp.Export(ctx, LogEntry{Message: msg}))
	}
	entries := exp.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "c", entries[1].Message)
}

func TestMultiHandler_Handle(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	l := slog.New(h)

	l.Info("only info")
	l.Error("both")

	assert.Contains(t, infoBuf.String(), "only info")
	assert.Contains(t, infoBuf.String(), "both")
	assert.NotContains(t, errBuf.String(), "only info")
	assert.Contains(t, errBuf.String(), "both")
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aleutian"), expandPath("~/.aleutian"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.True(t, strings.HasPrefix(expandPath("~"), home))
}

func TestLogger_ExporterSeesSlogCalls(t *testing.T) {
	exp := NewBufferedExporter(10)
	logger := New(Config{Level: LevelInfo, Quiet: true, Service: "lexgraph", Exporter: exp})

	l := logger.Slog().With("law", "근로기준법")
	l.Info("Saved law index", "laws", 2)
	l.WithGroup("build").Warn("Index saved with coverage gap", "missing", 3)
	l.Debug("dropped by level")

	entries := exp.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "lexgraph", entries[0].Attrs["service"])
	assert.Equal(t, int64(3), entries[1].Attrs["build.missing"])

	assert.Equal(t, []string{
		"Index saved with coverage gap build.missing=3 law=근로기준법",
	}, exp.Messages(LevelWarn))
	assert.Len(t, exp.Messages(LevelDebug), 2)
	require.NoError(t, logger.Close())
}
