package execguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource is the pgx-backed RowSource. Each query checks a connection out of
// the pool (bounded by AcquireTimeout), opens a read-only transaction, and
// applies statement-level resource limits with SET LOCAL so they never
// outlive the transaction.
type PGSource struct {
	pool *pgxpool.Pool

	acquireTimeout   time.Duration
	statementTimeout time.Duration
	lockTimeout      time.Duration
}

// NewPGSource creates a source over the pool. Zero durations take defaults.
func NewPGSource(pool *pgxpool.Pool, acquireTimeout, statementTimeout, lockTimeout time.Duration) (*PGSource, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if acquireTimeout == 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	if statementTimeout == 0 {
		statementTimeout = defaultQueryTimeout
	}
	if lockTimeout == 0 {
		lockTimeout = defaultLockTimeout
	}
	return &PGSource{
		pool:             pool,
		acquireTimeout:   acquireTimeout,
		statementTimeout: statementTimeout,
		lockTimeout:      lockTimeout,
	}, nil
}

// Query implements RowSource.
func (s *PGSource) Query(ctx context.Context, sql string) (Rows, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}

	for _, limit := range []string{
		fmt.Sprintf("SET LOCAL statement_timeout = %d", s.statementTimeout.Milliseconds()),
		fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds()),
	} {
		if _, err := tx.Exec(ctx, limit); err != nil {
			_ = tx.Rollback(ctx)
			conn.Release()
			return nil, fmt.Errorf("failed to set resource limits: %w", err)
		}
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, err
	}
	return &pgRows{ctx: ctx, rows: rows, tx: tx, conn: conn}, nil
}

// pgRows adapts pgx.Rows and guarantees the transaction ends and the
// connection returns to the pool on Close, on every exit path.
type pgRows struct {
	ctx  context.Context
	rows pgx.Rows
	tx   pgx.Tx
	conn *pgxpool.Conn

	closed bool
}

func (r *pgRows) Next() bool            { return r.rows.Next() }
func (r *pgRows) Values() ([]any, error) { return r.rows.Values() }
func (r *pgRows) Err() error            { return r.rows.Err() }

func (r *pgRows) Columns() []string {
	fields := r.rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}
	return columns
}

func (r *pgRows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.rows.Close()
	_ = r.tx.Rollback(r.ctx)
	r.conn.Release()
}
