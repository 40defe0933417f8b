// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists per-law indices in one unified JSON file.
//
// The file holds every indexed law under "laws". Saving one law rewrites the
// whole file but copies every other law's JSON through verbatim, so a rebuild
// of one law never alters another. Files written before the multi-law format
// (a bare law index with no "laws" key) are migrated on first save.
//
// There is no locking: one writer at a time is assumed.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianLex/services/statute/category"
)

// FormatVersion is written to the "version" field.
const FormatVersion = "2.0"

// DefaultLaw is the law a legacy single-law file is assumed to hold.
const DefaultLaw = "근로기준법"

var (
	// ErrLawNotFound is returned when the requested law is not indexed.
	ErrLawNotFound = errors.New("law not indexed")

	// ErrSchemaMigrated marks a load that converted a legacy file. It is
	// informational and never returned from Save.
	ErrSchemaMigrated = errors.New("legacy single-law index migrated")
)

// Unified is the decoded index file. Laws stay raw until asked for.
type Unified struct {
	Version     string                     `json:"version"`
	LastUpdated string                     `json:"last_updated"`
	Laws        map[string]json.RawMessage `json:"laws"`

	// Migrated is set when the file on disk was in the legacy format.
	Migrated bool `json:"-"`
}

// LawNames returns the indexed laws, sorted.
func (u *Unified) LawNames() []string {
	out := make([]string, 0, len(u.Laws))
	for name := range u.Laws {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Law decodes one law's index.
func (u *Unified) Law(name string) (*category.LawIndex, error) {
	raw, ok := u.Laws[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrLawNotFound)
	}
	var idx category.LawIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode index of %s: %w", name, err)
	}
	idx.Normalize()
	return &idx, nil
}

// Store reads and writes the unified index file.
type Store struct {
	path       string
	defaultLaw string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for last_updated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaultLaw sets the law a legacy file is migrated under.
func WithDefaultLaw(law string) Option {
	return func(s *Store) {
		if law != "" {
			s.defaultLaw = law
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store for the file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:       path,
		defaultLaw: DefaultLaw,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file. A missing file yields an empty index.
func (s *Store) Load() (*Unified, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Unified{Version: FormatVersion, Laws: map[string]json.RawMessage{}}, nil
		}
		return nil, fmt.Errorf("read index %s: %w", s.path, err)
	}
	return decode(data, s.defaultLaw)
}

// decode parses a unified or legacy file.
func decode(data []byte, defaultLaw string) (*Unified, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if _, ok := top["laws"]; !ok {
		return &Unified{
			Version:  FormatVersion,
			Laws:     map[string]json.RawMessage{defaultLaw: json.RawMessage(bytes.TrimSpace(data))},
			Migrated: true,
		}, nil
	}

	var u Unified
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if u.Laws == nil {
		u.Laws = map[string]json.RawMessage{}
	}
	if u.Version == "" {
		u.Version = FormatVersion
	}
	return &u, nil
}

// Save replaces one law's index and rewrites the file atomically.
//
// # Description
//
// Loads the current file (migrating a legacy one), replaces only
// laws[law], stamps last_updated from the store clock, and writes the
// result through a temp file and rename. Every other law is written back
// byte-for-byte as it was read.
//
// # Outputs
//
//   - error: Non-nil when the existing file is unreadable or corrupt, or
//     the write fails. A corrupt file is never overwritten.
func (s *Store) Save(law string, idx *category.LawIndex) error {
	if law == "" {
		return errors.New("save index: empty law name")
	}
	u, err := s.Load()
	if err != nil {
		return err
	}
	if u.Migrated {
		s.logger.Info("Migrating legacy index", "path", s.path, "law", s.defaultLaw, "event", ErrSchemaMigrated.Error())
	}

	idx.Normalize()
	raw, err := json.MarshalIndent(idx, "    ", "  ")
	if err != nil {
		return fmt.Errorf("encode index of %s: %w", law, err)
	}
	u.Laws[law] = raw
	u.Version = FormatVersion
	u.LastUpdated = s.now().Format(time.RFC3339)

	data, err := encode(u)
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write index %s: %w", s.path, err)
	}
	s.logger.Info("Saved law index", "path", s.path, "law", law, "laws", len(u.Laws))
	return nil
}

// Remove deletes laws[law] from the unified file. It reports whether the
// law was present; a missing file or law is not an error.
func (s *Store) Remove(law string) (bool, error) {
	u, err := s.Load()
	if err != nil {
		return false, err
	}
	if _, ok := u.Laws[law]; !ok {
		return false, nil
	}
	delete(u.Laws, law)
	u.Version = FormatVersion
	u.LastUpdated = s.now().Format(time.RFC3339)

	data, err := encode(u)
	if err != nil {
		return false, err
	}
	if err := writeAtomic(s.path, data); err != nil {
		return false, fmt.Errorf("write index %s: %w", s.path, err)
	}
	s.logger.Info("Removed law index", "path", s.path, "law", law, "laws", len(u.Laws))
	return true, nil
}

// encode writes the top-level object by hand so that law entries are
// emitted exactly as held.
func encode(u *Unified) ([]byte, error) {
	var buf bytes.Buffer
	str := func(v string) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}

	buf.WriteString("{\n  \"version\": ")
	if err := str(u.Version); err != nil {
		return nil, err
	}
	buf.WriteString(",\n  \"last_updated\": ")
	if err := str(u.LastUpdated); err != nil {
		return nil, err
	}
	buf.WriteString(",\n  \"laws\": {")
	for i, name := range u.LawNames() {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    ")
		if err := str(name); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		buf.Write(u.Laws[name])
	}
	if len(u.Laws) > 0 {
		buf.WriteString("\n  ")
	}
	buf.WriteString("}\n}\n")

	if !json.Valid(buf.Bytes()) {
		return nil, errors.New("encode index: produced invalid JSON")
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
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
