// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianLex/services/statute/category"
)

// Reader serves decoded law indices to consultations.
//
// # Description
//
// The file is re-read only when its modification time or size changes.
// Concurrent misses share one load. Decoded law indices are cached until the
// file changes.
//
// # Thread Safety
//
// Safe for concurrent use. Returned indices are shared and must be treated
// as read-only.
type Reader struct {
	store *Store

	mu      sync.RWMutex
	file    *Unified
	modTime time.Time
	size    int64
	laws    map[string]*category.LawIndex

	flight singleflight.Group
}

// NewReader creates a Reader over s.
func NewReader(s *Store) *Reader {
	return &Reader{store: s}
}

// Unified returns the current file contents.
func (r *Reader) Unified() (*Unified, error) {
	info, err := os.Stat(r.store.path)
	if err != nil {
		return nil, fmt.Errorf("stat index %s: %w", r.store.path, err)
	}

	r.mu.RLock()
	if r.file != nil && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		u := r.file
		r.mu.RUnlock()
		return u, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.flight.Do("load", func() (interface{}, error) {
		u, err := r.store.Load()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.file = u
		r.modTime = info.ModTime()
		r.size = info.Size()
		r.laws = make(map[string]*category.LawIndex)
		r.mu.Unlock()
		r.store.logger.Debug("Loaded law index file", "path", r.store.path, "laws", len(u.Laws))
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	u, ok := v.(*Unified)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight: got %T", v)
	}
	return u, nil
}

// Law returns the decoded index of one law.
func (r *Reader) Law(name string) (*category.LawIndex, error) {
	u, err := r.Unified()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	idx, ok := r.laws[name]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	idx, err = u.Law(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.file == u {
		r.laws[name] = idx
	}
	r.mu.Unlock()
	return idx, nil
}

// Laws returns the indexed law names.
func (r *Reader) Laws() ([]string, error) {
	u, err := r.Unified()
	if err != nil {
		return nil, err
	}
	return u.LawNames(), nil
}
