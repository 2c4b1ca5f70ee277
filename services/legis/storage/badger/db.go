// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance used for the on-disk registry
// caches. BadgerDB is embedded — no network call, no availability
// dependency — and enforces TTLs natively via its GC: expired keys return
// ErrKeyNotFound, which callers treat as a cache miss.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config holds the open options the cache layer cares about.
type Config struct {
	// Path is the on-disk directory. Empty path opens an in-memory DB
	// (tests, or deployments without a cache directory).
	Path string
	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration
}

// DefaultConfig returns the standard cache configuration.
func DefaultConfig() Config {
	return Config{GCInterval: 10 * time.Minute}
}

// DB owns a BadgerDB handle and its GC loop.
//
// Thread Safety: safe for concurrent use; Badger transactions are
// per-goroutine.
type DB struct {
	db     *dgbadger.DB
	stopGC chan struct{}
}

// OpenDB opens (or creates) the database at cfg.Path.
func OpenDB(cfg Config) (*DB, error) {
	opts := dgbadger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	d := &DB{db: db, stopGC: make(chan struct{})}
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go d.runGC(interval)
	return d, nil
}

func (d *DB) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// One pass per tick; Badger asks to be called again when a
			// rewrite happened, but the next tick covers that.
			if err := d.db.RunValueLogGC(0.5); err != nil &&
				err != dgbadger.ErrNoRewrite && err != dgbadger.ErrRejected {
				slog.Debug("badger GC pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// WithTxn runs fn inside a read-write transaction.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// Close stops the GC loop and closes the underlying database.
func (d *DB) Close() error {
	close(d.stopGC)
	return d.db.Close()
}
