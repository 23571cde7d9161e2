package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/askdb-dev/askdb/pkg/metrics"
	"github.com/askdb-dev/askdb/pkg/schema"
)

const (
	defaultResultTTL = 10 * time.Minute
	defaultPoolSize  = 8
)

// Config configures a Validator.
type Config struct {
	Logger *slog.Logger

	Limits    ComplexityLimits
	ResultTTL time.Duration
	PoolSize  int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Limits == (ComplexityLimits{}) {
		c.Limits = DefaultComplexityLimits()
	}
	if c.ResultTTL == 0 {
		c.ResultTTL = defaultResultTTL
	}
	if c.PoolSize == 0 {
		c.PoolSize = defaultPoolSize
	}
	return nil
}

// Validator runs the ordered validation layers over generated statements and
// caches results by statement hash and schema version.
type Validator struct {
	cfg *Config
	log *slog.Logger

	cache   *ttlcache.Cache[string, *Result]
	cacheMu sync.RWMutex

	layerPool pond.ResultPool[[]Issue]
}

// New creates a Validator.
func New(cfg *Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate validator config: %w", err)
	}
	return &Validator{
		cfg: cfg,
		log: cfg.Logger,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Result](cfg.ResultTTL),
		),
		layerPool: pond.NewResultPool[[]Issue](cfg.PoolSize),
	}, nil
}

// Validate runs all layers over the statement. The two security layers run
// first and short-circuit on a critical finding; the schema, complexity and
// cost layers are independent and run concurrently.
func (v *Validator) Validate(ctx context.Context, sql string, snap *schema.Snapshot) *Result {
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))

	version := ""
	if snap != nil {
		version = snap.Version
	}
	key := cacheKey(sql, version)
	if cached := v.cached(key); cached != nil {
		return cached
	}

	result := v.run(ctx, sql, snap)

	v.cacheMu.Lock()
	v.cache.Set(key, result, v.cfg.ResultTTL)
	v.cacheMu.Unlock()

	if !result.Passed {
		for _, issue := range result.Issues {
			if issue.Severity >= SeverityError {
				metrics.ValidationFailures.WithLabelValues(issue.Rule).Inc()
			}
		}
	}
	return result
}

func (v *Validator) run(ctx context.Context, sql string, snap *schema.Snapshot) *Result {
	result := &Result{Statement: sql}

	// Layers 1 and 2 are security-critical and short-circuit.
	if issues := checkInjection(sql); len(issues) > 0 {
		result.Issues = issues
		return result
	}
	if issues := checkReadOnly(sql); len(issues) > 0 {
		result.Issues = issues
		return result
	}

	// Layers 3-5 are independent; run them on the shared pool and keep
	// their ordered results.
	group := v.layerPool.NewGroupContext(ctx)
	group.SubmitErr(func() ([]Issue, error) { return checkSchema(sql, snap), nil })
	group.SubmitErr(func() ([]Issue, error) { return checkComplexity(sql, v.cfg.Limits), nil })
	group.SubmitErr(func() ([]Issue, error) { return checkCost(sql, snap), nil })

	layerIssues, err := group.Wait()
	if err != nil {
		// Layers never return errors themselves; this is context cancellation.
		v.log.Warn("validate: layer execution interrupted", "error", err)
	}
	for _, issues := range layerIssues {
		result.Issues = append(result.Issues, issues...)
	}

	result.Passed = !result.Blocking()
	return result
}

func (v *Validator) cached(key string) *Result {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()
	item := v.cache.Get(key)
	if item == nil {
		return nil
	}
	return item.Value()
}

func cacheKey(sql, schemaVersion string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:]) + ":" + schemaVersion
}
