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
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianLex/services/statute/article"
)

// LawChangeHandler is called with the laws whose source files changed
// during one debounce window.
type LawChangeHandler func(ctx context.Context, laws []string)

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for more events before calling the
	// handler. Editors often write a file several times in a row.
	// Default: 500ms
	Debounce time.Duration

	// BufferSize is the size of the event channel.
	// Default: 256
	BufferSize int
}

// DefaultWatcherOptions returns the defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:   500 * time.Millisecond,
		BufferSize: 256,
	}
}

// Watcher watches a laws directory and reports changed laws.
//
// # Description
//
// Only files named "<law>(<tier>).md" are considered. Events are collected
// for one debounce window, reduced to distinct law names, and handed to the
// handler in sorted order.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine,
// so a slow handler delays the next batch instead of overlapping it.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handler  LawChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	events   chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, handler LawChangeHandler, opts *WatcherOptions, logger *slog.Logger) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		handler:  handler,
		debounce: opts.Debounce,
		logger:   logger,
		events:   make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.logger.Info("Watching laws directory", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher. Pending changes are flushed to the handler.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			law, _, ok := article.ParseFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			select {
			case w.events <- law:
			default:
				w.logger.Warn("Dropping file event, buffer full", "path", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]bool)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	flush := func() {
		if len(pending) > 0 && w.handler != nil {
			w.handler(ctx, sortedKeys(pending))
		}
		pending = make(map[string]bool)
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush()
			return
		case law := <-w.events:
			pending[law] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
