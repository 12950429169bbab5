// Package store is the query gateway every agent and dashboard page uses to
// reach the relational backend. Statements use positional $N parameters,
// which both lib/pq and modernc.org/sqlite bind in order.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open opens a database handle for driver ("postgres" or "sqlite").
// No connection is made until first use.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases shared across calls.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Gateway executes parameterized queries and statements with a per-operation timeout.
type Gateway struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a gateway over db. A zero opTimeout disables the per-operation deadline.
func New(db *sql.DB, opTimeout time.Duration) *Gateway {
	return &Gateway{db: db, opTimeout: opTimeout}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.opTimeout)
}

// Query runs a read query and returns the full result set.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (Table, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Table{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("columns: %w", err)
	}

	table := Table{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			// Drivers return TEXT and NUMERIC as []byte; the buffer is reused after Scan.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("rows: %w", err)
	}

	return table, nil
}

// Update runs a write statement and returns the number of affected rows.
func (g *Gateway) Update(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	result, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Ping verifies the backend is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.db.PingContext(ctx)
}

// Migrate creates the tables used by the agents and the run log.
func (g *Gateway) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := g.Update(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
