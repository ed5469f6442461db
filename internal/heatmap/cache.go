// SPDX-License-Identifier: MIT

package heatmap

import (
	"crypto/sha1" // #nosec G505 -- cache key derivation, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/strmd/strmd/internal/log"
)

const cacheTTL = 30 * 24 * time.Hour

// Cache is the advisory on-disk store for finished heatmap results. Read
// failures are cache misses; write failures are logged and swallowed.
type Cache struct {
	db  *badger.DB
	log zerolog.Logger
}

// OpenCache opens (creating if needed) the badger-backed result cache.
func OpenCache(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open heatmap cache: %w", err)
	}
	return &Cache{db: db, log: log.WithComponent("heatmap-cache")}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() {
	if err := c.db.Close(); err != nil {
		c.log.Warn().Err(err).Msg("failed to close heatmap cache")
	}
}

// CacheKey derives the stable cache key for a resolved path and point count.
func CacheKey(resolvedPath string, points int) string {
	sum := sha1.Sum([]byte(resolvedPath)) // #nosec G401
	return fmt.Sprintf("%s:%d", hex.EncodeToString(sum[:]), points)
}

// Get returns the cached result for key, with ok=false on any miss or error.
func (c *Cache) Get(key string) (Result, bool) {
	var result Result
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		return Result{}, false
	}
	return result, true
}

// Set stores a result best-effort; failures never fail the analysis job.
func (c *Cache) Set(key string, result Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to encode heatmap result for cache")
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), payload).WithTTL(cacheTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("failed to write heatmap result to cache")
	}
}

// GC reclaims value-log space; wired into the maintenance schedule.
func (c *Cache) GC() {
	if err := c.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		c.log.Debug().Err(err).Msg("heatmap cache gc")
	}
}
