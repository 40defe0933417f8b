// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package version decides which statute files changed since the last index
// run, and watches the laws directory for new changes.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// Strategy selects how a file's version token is computed.
type Strategy string

const (
	// StrategyMtime uses the modification time in whole seconds. Cheap, but
	// a checkout or restore can change it without changing content.
	StrategyMtime Strategy = "mtime"

	// StrategySHA256 hashes file content.
	StrategySHA256 Strategy = "sha256"
)

// ParseStrategy accepts "mtime", "sha256", or empty (mtime).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyMtime:
		return StrategyMtime, nil
	case StrategySHA256:
		return StrategySHA256, nil
	default:
		return "", fmt.Errorf("unknown version strategy %q", s)
	}
}

// Record maps a source file name to its version token.
type Record map[string]string

// Diff is the difference between the files on disk and the last record.
type Diff struct {
	// Current holds the token of every file on disk.
	Current Record

	// Changed lists new or modified files, sorted.
	Changed []string

	// Removed lists recorded files no longer on disk, sorted.
	Removed []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Removed) == 0
}

// Laws returns the distinct law names of changed and removed files, sorted.
// Files not following the "<law>(<tier>).md" convention are skipped.
func (d Diff) Laws() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{d.Changed, d.Removed} {
		for _, name := range list {
			law, _, ok := article.ParseFileName(name)
			if !ok || seen[law] {
				continue
			}
			seen[law] = true
			out = append(out, law)
		}
	}
	sort.Strings(out)
	return out
}

// FilesOf returns the changed and removed files belonging to law.
func (d Diff) FilesOf(law string) []string {
	var out []string
	for _, list := range [][]string{d.Changed, d.Removed} {
		for _, name := range list {
			if l, _, ok := article.ParseFileName(name); ok && l == law {
				out = append(out, name)
			}
		}
	}
	return out
}

// Tracker computes and persists version tokens for one directory.
type Tracker struct {
	dir      string
	path     string
	strategy Strategy
	logger   *slog.Logger
}

// NewTracker creates a tracker for the *.md files in dir, persisting the
// record at path.
func NewTracker(dir, path string, strategy Strategy, logger *slog.Logger) *Tracker {
	if strategy == "" {
		strategy = StrategyMtime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{dir: dir, path: path, strategy: strategy, logger: logger}
}

// Token computes the version token of one file.
func (t *Tracker) Token(path string) (string, error) {
	switch t.strategy {
	case StrategySHA256:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(info.ModTime().Unix(), 10), nil
	}
}

// Scan returns the token of every *.md file in the directory.
func (t *Tracker) Scan() (Record, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.dir, err)
	}
	out := make(Record)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		tok, err := t.Token(filepath.Join(t.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = tok
	}
	return out, nil
}

// Load reads the persisted record. A missing or unreadable record is
// treated as empty so every file counts as changed.
func (t *Tracker) Load() Record {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("Failed to read version record, treating as empty", "path", t.path, "error", err)
		}
		return Record{}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
		t.logger.Warn("Corrupt version record, treating as empty", "path", t.path, "error", err)
		return Record{}
	}
	return rec
}

// Diff compares the directory against the persisted record.
func (t *Tracker) Diff() (Diff, error) {
	current, err := t.Scan()
	if err != nil {
		return Diff{}, err
	}
	previous := t.Load()

	d := Diff{Current: current}
	for name, tok := range current {
		if previous[name] != tok {
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range previous {
		if _, ok := current[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d, nil
}

// Commit records the tokens of files from d. Files absent from d.Current
// are dropped from the record. Entries for other files are kept as they
// were, so a law that failed to index is retried on the next run.
func (t *Tracker) Commit(d Diff, files []string) error {
	rec := t.Load()
	for _, name := range files {
		if tok, ok := d.Current[name]; ok {
			rec[name] = tok
		} else {
			delete(rec, name)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}
	if err := writeAtomic(t.path, data); err != nil {
		return fmt.Errorf("write version record: %w", err)
	}
	t.logger.Debug("Committed version record", "path", t.path, "files", len(files))
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
