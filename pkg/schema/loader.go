package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Loader produces schema snapshots from some source of truth.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// PGLoader reads the schema from a PostgreSQL catalog.
type PGLoader struct {
	pool       *pgxpool.Pool
	schemaName string
}

// NewPGLoader creates a loader reading from the given pool. The schemaName
// defaults to "public".
func NewPGLoader(pool *pgxpool.Pool, schemaName string) *PGLoader {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PGLoader{pool: pool, schemaName: schemaName}
}

const columnsQuery = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES', COALESCE(pc.reltuples::bigint, 0)
FROM information_schema.columns c
JOIN pg_class pc ON pc.relname = c.table_name
JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

const foreignKeysQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`

// Load reads tables, columns, row estimates and foreign keys, and assembles a
// versioned snapshot.
func (l *PGLoader) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := l.pool.Query(ctx, columnsQuery, l.schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*Table)
	var order []string
	for rows.Next() {
		var tableName, columnName, dataType string
		var nullable bool
		var rowEstimate int64
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &rowEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		key := strings.ToLower(tableName)
		t, ok := byName[key]
		if !ok {
			t = &Table{Name: tableName, RowEstimate: rowEstimate}
			byName[key] = t
			order = append(order, key)
		}
		t.Columns = append(t.Columns, Column{Name: columnName, DataType: dataType, Nullable: nullable})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column rows: %w", err)
	}

	fkRows, err := l.pool.Query(ctx, foreignKeysQuery, l.schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var tableName, columnName, refTable, refColumn string
		if err := fkRows.Scan(&tableName, &columnName, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		if t, ok := byName[strings.ToLower(tableName)]; ok {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Column:    columnName,
				RefTable:  strings.ToLower(refTable),
				RefColumn: refColumn,
			})
		}
	}
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read foreign key rows: %w", err)
	}

	tables := make([]*Table, 0, len(order))
	for _, key := range order {
		tables = append(tables, byName[key])
	}
	return NewSnapshot(tables), nil
}

// StaticLoader serves a fixed snapshot. Useful for tests and for deployments
// that describe their schema out of band.
type StaticLoader struct {
	Snap *Snapshot
}

func (l *StaticLoader) Load(_ context.Context) (*Snapshot, error) {
	if l.Snap == nil {
		return nil, fmt.Errorf("no snapshot configured")
	}
	return l.Snap, nil
}
