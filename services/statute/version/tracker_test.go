// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package version

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyMtime, "mtime": StrategyMtime, "SHA256": StrategySHA256} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("git")
	assert.Error(t, err)
}

func TestTracker_MtimeDiffAndCommit(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(t.TempDir(), "judgment", "law_versions.json")
	base := time.Unix(1700000000, 0)

	writeFile(t, dir, "근로기준법(법률).md", "a", base)
	writeFile(t, dir, "근로기준법(시행령).md", "b", base)
	writeFile(t, dir, "최저임금법(법률).md", "c", base)
	writeFile(t, dir, "notes.txt", "ignored", base)

	tr := NewTracker(dir, record, StrategyMtime, nil)

	d, err := tr.Diff()
	require.NoError(t, err)
	assert.Equal(t, []string{"근로기준법(법률).md", "근로기준법(시행령).md", "최저임금법(법률).md"}, d.Changed)
	assert.Equal(t, "1700000000", d.Current["근로기준법(법률).md"])
	assert.Equal(t, []string{"근로기준법", "최저임금법"}, d.Laws())

	// Only the first law indexed successfully.
	require.NoError(t, tr.Commit(d, d.FilesOf("근로기준법")))

	d, err = tr.Diff()
	require.NoError(t, err)
	assert.Equal(t, []string{"최저임금법(법률).md"}, d.Changed)

	writeFile(t, dir, "근로기준법(시행령).md", "b2", base.Add(time.Minute))
	require.NoError(t, os.Remove(filepath.Join(dir, "근로기준법(법률).md")))

	d, err = tr.Diff()
	require.NoError(t, err)
	assert.Equal(t, []string{"근로기준법(시행령).md", "최저임금법(법률).md"}, d.Changed)
	assert.Equal(t, []string{"근로기준법(법률).md"}, d.Removed)

	require.NoError(t, tr.Commit(d, append(d.Changed, d.Removed...)))
	rec := tr.Load()
	assert.NotContains(t, rec, "근로기준법(법률).md")
	assert.Len(t, rec, 2)

	d, err = tr.Diff()
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestTracker_SHA256IgnoresTouch(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(t.TempDir(), "versions.json")
	base := time.Unix(1700000000, 0)
	writeFile(t, dir, "근로기준법(법률).md", "same", base)

	tr := NewTracker(dir, record, StrategySHA256, nil)
	d, err := tr.Diff()
	require.NoError(t, err)
	require.NoError(t, tr.Commit(d, d.Changed))

	writeFile(t, dir, "근로기준법(법률).md", "same", base.Add(time.Hour))
	d, err = tr.Diff()
	require.NoError(t, err)
	assert.True(t, d.Empty(), "content unchanged")

	writeFile(t, dir, "근로기준법(법률).md", "different", base)
	d, err = tr.Diff()
	require.NoError(t, err)
	assert.Equal(t, []string{"근로기준법(법률).md"}, d.Changed)
}

func TestTracker_CorruptRecordIsEmpty(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(t.TempDir(), "versions.json")
	require.NoError(t, os.WriteFile(record, []byte("{not json"), 0o644))
	writeFile(t, dir, "근로기준법(법률).md", "a", time.Unix(1700000000, 0))

	tr := NewTracker(dir, record, StrategyMtime, nil)
	assert.Empty(t, tr.Load())

	d, err := tr.Diff()
	require.NoError(t, err)
	assert.Len(t, d.Changed, 1)
}

func TestTracker_MissingDir(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "nope"), "v.json", StrategyMtime, nil)
	_, err := tr.Diff()
	assert.Error(t, err)
}

func TestWatcher_ReportsChangedLaws(t *testing.T) {
	dir := t.TempDir()

	var (
		mu  sync.Mutex
		got [][]string
	)
	called := make(chan struct{}, 4)
	w, err := NewWatcher(dir, func(_ context.Context, laws []string) {
		mu.Lock()
		got = append(got, laws)
		mu.Unlock()
		called <- struct{}{}
	}, &WatcherOptions{Debounce: 50 * time.Millisecond, BufferSize: 16}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "최저임금법(법률).md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "근로기준법(시행령).md"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("z"), 0o644))

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, batch := range got {
		for _, law := range batch {
			seen[law] = true
		}
	}
	assert.True(t, seen["최저임금법"] || seen["근로기준법"])
	assert.False(t, seen["README"])
}
