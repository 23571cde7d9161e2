package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const snapshotCacheKey = "snapshot"

const defaultSnapshotTTL = time.Hour

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Logger *slog.Logger
	Loader Loader

	// SnapshotTTL bounds how stale a cached snapshot may get before the
	// next Snapshot call reloads it. Defaults to one hour.
	SnapshotTTL time.Duration
}

func (c *ProviderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Loader == nil {
		return errors.New("loader is required")
	}
	if c.SnapshotTTL == 0 {
		c.SnapshotTTL = defaultSnapshotTTL
	}
	return nil
}

// Provider hands out schema snapshots, reloading at most once per TTL window.
// Concurrent callers share one snapshot; Invalidate forces the next call to
// reload (used when a schema-version change is detected out of band).
type Provider struct {
	cfg *ProviderConfig
	log *slog.Logger

	cache   *ttlcache.Cache[string, *Snapshot]
	cacheMu sync.RWMutex
	loadMu  sync.Mutex
}

// NewProvider creates a snapshot provider.
func NewProvider(cfg *ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema provider config: %w", err)
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Snapshot](cfg.SnapshotTTL),
	)
	return &Provider{
		cfg:   cfg,
		log:   cfg.Logger,
		cache: cache,
	}, nil
}

// Snapshot returns the current schema snapshot, loading it if the cached one
// expired.
func (p *Provider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := p.cached(); snap != nil {
		return snap, nil
	}

	// Single-flight the reload; concurrent misses wait for one load.
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if snap := p.cached(); snap != nil {
		return snap, nil
	}

	snap, err := p.cfg.Loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema snapshot: %w", err)
	}
	p.cacheMu.Lock()
	p.cache.Set(snapshotCacheKey, snap, p.cfg.SnapshotTTL)
	p.cacheMu.Unlock()
	p.log.Info("schema: snapshot loaded", "tables", len(snap.Tables), "version", snap.Version)
	return snap, nil
}

// Version returns the current snapshot's version token.
func (p *Provider) Version(ctx context.Context) (string, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.Version, nil
}

// Invalidate drops the cached snapshot so the next call reloads it.
func (p *Provider) Invalidate() {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache.Delete(snapshotCacheKey)
}

func (p *Provider) cached() *Snapshot {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	item := p.cache.Get(snapshotCacheKey)
	if item == nil {
		return nil
	}
	return item.Value()
}
