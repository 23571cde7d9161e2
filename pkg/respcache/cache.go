// Package respcache caches finished responses keyed by a fingerprint of the
// normalized question and the schema version, so a repeated question skips
// generation and execution entirely while the schema is unchanged.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/metrics"
	"github.com/askdb-dev/askdb/pkg/retrieval"
)

const defaultTTL = 15 * time.Minute

// Entry is a cached, fully-formed response payload.
type Entry struct {
	Answer    string
	Statement string
	Result    *execguard.Result
	CachedAt  time.Time
}

// Config configures a Cache.
type Config struct {
	Logger *slog.Logger
	TTL    time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.TTL == 0 {
		c.TTL = defaultTTL
	}
	return nil
}

// Cache is a TTL response cache. Entries become unreachable as soon as the
// schema version rotates, because the version is part of the key.
type Cache struct {
	cfg *Config
	log *slog.Logger

	mu      sync.RWMutex
	entries *ttlcache.Cache[string, Entry]

	versionMu sync.Mutex
	version   string
}

// New creates a response cache and starts its expiry loop.
func New(cfg *Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate response cache config: %w", err)
	}
	c := &Cache{
		cfg:     cfg,
		log:     cfg.Logger,
		entries: ttlcache.New(ttlcache.WithTTL[string, Entry](cfg.TTL)),
	}
	go c.entries.Start()
	return c, nil
}

// Fingerprint derives the cache key from the normalized question text and
// the schema version.
func Fingerprint(queryText, schemaVersion string) string {
	sum := sha256.Sum256([]byte(retrieval.NormalizeText(queryText)))
	return hex.EncodeToString(sum[:]) + ":" + schemaVersion
}

// Get returns the cached entry for the question under the given schema
// version, if present.
func (c *Cache) Get(queryText, schemaVersion string) (Entry, bool) {
	c.checkVersion(schemaVersion)

	c.mu.RLock()
	item := c.entries.Get(Fingerprint(queryText, schemaVersion))
	c.mu.RUnlock()
	if item == nil {
		return Entry{}, false
	}
	metrics.CacheHitsTotal.Inc()
	return item.Value(), true
}

// Set stores a finished response.
func (c *Cache) Set(queryText, schemaVersion string, entry Entry) {
	c.checkVersion(schemaVersion)

	c.mu.Lock()
	c.entries.Set(Fingerprint(queryText, schemaVersion), entry, ttlcache.DefaultTTL)
	c.mu.Unlock()
}

// Invalidate drops every entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries.DeleteAll()
	c.mu.Unlock()
}

// checkVersion flushes the cache when the schema version rotates. Stale keys
// are already unreachable; the flush just frees them eagerly.
func (c *Cache) checkVersion(version string) {
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	if c.version == version {
		return
	}
	if c.version != "" {
		c.log.Info("response cache: schema version changed, flushing", "old", c.version, "new", version)
		c.Invalidate()
	}
	c.version = version
}
