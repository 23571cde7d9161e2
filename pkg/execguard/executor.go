package execguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/askdb-dev/askdb/pkg/metrics"
)

const (
	defaultQueryTimeout       = 30 * time.Second
	defaultAcquireTimeout     = 3 * time.Second
	defaultLockTimeout        = 2 * time.Second
	defaultBatchSize          = 100
	defaultHardCap            = 1000
	defaultLargeResultCeiling = 50_000
	defaultMaxTries           = 3
)

// Result is the outcome of one executed statement. If Complete is false a
// warning explains why (truncation or an aborted large fetch).
type Result struct {
	Success       bool
	Columns       []string
	Rows          []map[string]any
	RowCount      int
	ExecutionTime time.Duration
	Complete      bool
	Warnings      []string
}

// RowSource abstracts the pooled datastore connection: acquire, run one
// read-only query under resource limits, release. The pgx implementation is
// in pgpool.go; tests substitute their own.
type RowSource interface {
	// Query runs sql inside a read-only transaction with statement and lock
	// timeouts applied, returning a row iterator. Closing the iterator
	// releases the connection.
	Query(ctx context.Context, sql string) (Rows, error)
}

// Rows is the minimal row iterator the tiered fetch needs.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Columns() []string
	Err() error
	Close()
}

// Config configures an Executor.
type Config struct {
	Logger  *slog.Logger
	Source  RowSource
	Breaker *Breaker

	QueryTimeout time.Duration

	// Tiered fetching: BatchSize is the initial fetch tier, and the sample
	// retained when a large fetch is aborted; HardCap the most rows ever
	// returned; LargeResultCeiling the streamed-count threshold above which
	// fetching is aborted in favor of an estimate.
	BatchSize          int
	HardCap            int
	LargeResultCeiling int

	// MaxTries bounds attempts for transient errors (first try included).
	MaxTries int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Source == nil {
		return errors.New("row source is required")
	}
	if c.Breaker == nil {
		return errors.New("breaker is required")
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.HardCap == 0 {
		c.HardCap = defaultHardCap
	}
	if c.LargeResultCeiling == 0 {
		c.LargeResultCeiling = defaultLargeResultCeiling
	}
	if c.HardCap < c.BatchSize {
		return fmt.Errorf("hard cap %d must be at least the batch size %d", c.HardCap, c.BatchSize)
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}
	return nil
}

// Executor runs validated statements through the breaker with bounded retry.
type Executor struct {
	cfg *Config
	log *slog.Logger
}

// New creates an Executor.
func New(cfg *Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{cfg: cfg, log: cfg.Logger}, nil
}

// Execute runs the statement. Transient failures are retried with capped
// exponential backoff; every attempt consults the breaker first and reports
// its outcome back, so the circuit sees each datastore contact.
func (e *Executor) Execute(ctx context.Context, sql string) (*Result, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	attempt := 0
	result, err := backoff.Retry(ctx, func() (*Result, error) {
		attempt++
		if attempt > 1 {
			metrics.ExecutionRetries.Inc()
			e.log.Warn("execguard: retrying transient execution failure", "attempt", attempt)
		}
		res, err := e.attempt(ctx, sql)
		if err == nil {
			return res, nil
		}
		if Classify(err) == ClassTransient {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(e.cfg.MaxTries)))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) attempt(ctx context.Context, sql string) (*Result, error) {
	if err := e.cfg.Breaker.Allow(); err != nil {
		// Fail fast without touching the datastore; classified permanent, so
		// the retry loop surfaces it immediately.
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.cfg.Source.Query(queryCtx, sql)
	if err != nil {
		e.cfg.Breaker.OnFailure()
		return nil, err
	}
	defer rows.Close()

	result, err := e.fetch(rows)
	if err != nil {
		e.cfg.Breaker.OnFailure()
		return nil, err
	}
	result.ExecutionTime = time.Since(start)
	e.cfg.Breaker.OnSuccess()
	return result, nil
}

// fetch implements the tiered strategy: read an initial batch, then keep
// reading up to the hard cap, then keep counting (without storing) up to the
// large-result ceiling. Sets that fit within the cap return complete; sets
// past the hard cap return truncated; sets past the ceiling are aborted with
// a lower-bound estimate and the initial batch kept as a sample. Row-count
// estimation by early-cutoff streaming keeps the cost bounded without
// assuming any planner capability.
func (e *Executor) fetch(rows Rows) (*Result, error) {
	result := &Result{
		Success: true,
		Columns: rows.Columns(),
		Rows:    make([]map[string]any, 0, e.cfg.BatchSize),
	}

	count := 0
	for rows.Next() {
		count++
		if count > e.cfg.LargeResultCeiling {
			if len(result.Rows) > e.cfg.BatchSize {
				result.Rows = result.Rows[:e.cfg.BatchSize]
			}
			result.RowCount = e.cfg.LargeResultCeiling
			result.Complete = false
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"result exceeds %d rows; fetching aborted after a %d-row sample. Narrow the question with a filter or date range, or use an export job for full extracts.",
				e.cfg.LargeResultCeiling, len(result.Rows)))
			return result, nil
		}
		if count <= e.cfg.HardCap {
			values, err := rows.Values()
			if err != nil {
				return nil, err
			}
			result.Rows = append(result.Rows, rowMap(result.Columns, values))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = count
	if count > e.cfg.HardCap {
		result.Complete = false
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"showing the first %d of %d rows; add a filter or LIMIT to narrow the result.",
			e.cfg.HardCap, count))
	} else {
		result.Complete = true
	}
	return result, nil
}

func rowMap(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(values) {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
	}
	return row
}
