// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	badgerstore "github.com/AleutianAI/legis/services/legis/storage/badger"
)

// Cache TTLs per payload class. Consolidated law text is effectively
// immutable over a study session; search responses are not.
const (
	TTLNormText = 30 * 24 * time.Hour
	TTLSearch   = 24 * time.Hour
	// TTLForever stores without expiry (titles, CELEX existence).
	TTLForever = time.Duration(0)
)

// errCacheMiss distinguishes "key not found" from a storage error.
var errCacheMiss = errors.New("cache miss")

var cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "legis",
	Subsystem: "registry",
	Name:      "cache_ops_total",
	Help:      "Registry cache operations by store and outcome",
}, []string{"store", "outcome"})

// Cache is the shared on-disk cache for registry responses, keyed by a
// deterministic hash of the request parameters.
//
// A nil *Cache is valid and disables caching (every lookup misses, every
// store is a no-op) — the same graceful-degradation contract the rest of
// the service uses when the cache directory is unavailable.
//
// Partial or failed responses are never stored; only the clients decide
// what counts as a complete payload.
//
// Thread Safety: safe for concurrent use. Writers are serialized per key
// by the underlying transaction; readers never block.
type Cache struct {
	db     *badgerstore.DB
	name   string
	logger *slog.Logger
}

// NewCache creates a cache view named name (used as key prefix and metric
// label) over db. db may be nil to disable caching. logger may be nil.
func NewCache(db *badgerstore.DB, name string, logger *slog.Logger) *Cache {
	if db == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, name: name, logger: logger}
}

// Key builds the deterministic cache key for a request: the store name plus
// a SHA256 over the request parts.
func (c *Cache) Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%s\x00", p)
	}
	name := "registry"
	if c != nil {
		name = c.name
	}
	return name + "/" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload for key, or (nil, false) on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, errCacheMiss) {
		cacheOpsTotal.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	if err != nil {
		cacheOpsTotal.WithLabelValues(c.name, "error").Inc()
		c.logger.Warn("registry cache read failed",
			slog.String("store", c.name),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	cacheOpsTotal.WithLabelValues(c.name, "hit").Inc()
	return raw, true
}

// Set stores payload under key with the given TTL (TTLForever = no expiry).
// Storage failures degrade to a warning; the caller already has the payload.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if c == nil || len(payload) == 0 {
		return
	}

	err := c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry([]byte(key), payload)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		cacheOpsTotal.WithLabelValues(c.name, "error").Inc()
		c.logger.Warn("registry cache write failed",
			slog.String("store", c.name),
			slog.String("error", err.Error()),
		)
		return
	}
	cacheOpsTotal.WithLabelValues(c.name, "store").Inc()
}
