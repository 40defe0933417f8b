// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLex/services/investigation"
)

const keyPrefix = "session/"

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned by Create for an id already in use.
	ErrExists = errors.New("session already exists")

	// ErrConflict is returned by Update when the session was written while
	// the update function ran.
	ErrConflict = errors.New("session changed by a concurrent update")
)

// Store persists investigation states.
//
// # Thread Safety
//
// Safe for concurrent use. Update detects a concurrent write to the same
// session by its badger version and fails instead of overwriting it.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	cfg    Config
	logger *slog.Logger
}

// Open opens the session store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, cfg: cfg, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Create stores a new session. It fails with ErrExists if the id is taken.
func (s *Store) Create(ctx context.Context, st *investigation.State) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(st.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, st.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read session %s: %w", st.ID, err)
		}
		return s.set(txn, st)
	})
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, id string) (*investigation.State, error) {
	var st *investigation.State
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		var err error
		st, err = get(txn, id)
		return err
	})
	return st, err
}

// Put overwrites a session.
func (s *Store) Put(ctx context.Context, st *investigation.State) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return s.set(txn, st)
	})
}

// Update applies fn to the stored session and writes the result back.
//
// fn runs once, outside any transaction, so it may make slow external
// calls (an engine turn calls the model). The result is written only if the
// stored session still has the version fn was given; otherwise Update
// returns ErrConflict and writes nothing. When fn fails nothing is written
// and its error is returned.
func (s *Store) Update(ctx context.Context, id string, fn func(*investigation.State) (*investigation.State, error)) (*investigation.State, error) {
	var (
		cur     *investigation.State
		version uint64
	)
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := lookup(txn, id)
		if err != nil {
			return err
		}
		version = item.Version()
		cur, err = decode(item, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil || next.ID != id {
		return nil, fmt.Errorf("update of session %s returned another session", id)
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := lookup(txn, id)
		if err != nil {
			return err
		}
		if item.Version() != version {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
		return s.set(txn, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		err = fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if err != nil {
		s.logger.Debug("Session update not written", "session", id, "error", err)
		return nil, err
	}
	return next, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// List returns the ids of all stored sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	return ids, err
}

func (s *Store) set(txn *badger.Txn, st *investigation.State) error {
	if st.ID == "" {
		return errors.New("session id is empty")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	e := badger.NewEntry(key(st.ID), data)
	if s.cfg.TTL > 0 {
		e = e.WithTTL(s.cfg.TTL)
	}
	return txn.SetEntry(e)
}

func get(txn *badger.Txn, id string) (*investigation.State, error) {
	item, err := lookup(txn, id)
	if err != nil {
		return nil, err
	}
	return decode(item, id)
}

func lookup(txn *badger.Txn, id string) (*badger.Item, error) {
	item, err := txn.Get(key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return item, nil
}

func decode(item *badger.Item, id string) (*investigation.State, error) {
	var st investigation.State
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &st)
	}); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &st, nil
}
