// Package squery is a small PostgreSQL access layer: a cooperative connection
// pool plus versioned schema migrations. The pool multiplexes a bounded (or
// single-slot) set of physical connections across concurrent goroutines; the
// migration runner tracks a (major, minor) version per named migration group
// and applies pending scripts strictly in order, each inside its own
// transaction.
package squery

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/outernet-project/squery/migration"
	"github.com/outernet-project/squery/pool"
)

// Database wraps a connection pool for one named database and accepts queries
// as plain SQL strings or Serializer query objects.
type Database struct {
	pool *pool.Pool
	cfg  Config
	log  *util.LogEntry
}

// Connect validates cfg, probes one connection and builds the pool. When the
// probe fails because the database does not exist, the database is created
// and the probe retried once; every other failure propagates.
func Connect(ctx context.Context, cfg Config, opts ...pool.Option) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory, err := pool.NewFactory(cfg.DSN())
	if err != nil {
		return nil, err
	}

	conn, err := factory(ctx)
	if err != nil {
		if !IsMissingDatabase(err) {
			return nil, err
		}
		if err = Create(ctx, cfg); err != nil {
			return nil, err
		}
		if conn, err = factory(ctx); err != nil {
			return nil, err
		}
	}
	// The probe connection served its purpose; the pool manages its own.
	_ = conn.Close(ctx)

	poolOpts := append([]pool.Option{
		pool.WithMaxSize(cfg.MaxPoolSize),
		pool.WithQueryLogging(cfg.Debug),
	}, opts...)

	p, err := pool.New(ctx, factory, poolOpts...)
	if err != nil {
		return nil, err
	}

	return &Database{pool: p, cfg: cfg, log: util.Log(ctx)}, nil
}

// Name returns the configured database name.
func (d *Database) Name() string {
	return d.cfg.Database
}

// Pool exposes the underlying connection pool.
func (d *Database) Pool() *pool.Pool {
	return d.pool
}

// Execute runs a statement in its own transaction and returns the number of
// rows it affected.
func (d *Database) Execute(ctx context.Context, query any, args ...any) (int64, error) {
	sql, err := serializeQuery(query)
	if err != nil {
		return 0, err
	}
	return d.pool.Execute(ctx, sql, args...)
}

// ExecuteMany runs one statement per argument tuple inside a single
// transaction.
func (d *Database) ExecuteMany(ctx context.Context, query any, argSets [][]any) (int64, error) {
	sql, err := serializeQuery(query)
	if err != nil {
		return 0, err
	}
	return d.pool.ExecuteMany(ctx, sql, argSets)
}

// ExecuteScript runs a script of one or more statements with autocommit
// semantics, outside any transaction.
func (d *Database) ExecuteScript(ctx context.Context, sql string) error {
	return d.pool.Transaction(ctx, pool.LevelAutocommit,
		func(ctx context.Context, conn pool.Connection) error {
			return conn.ExecScript(ctx, sql)
		})
}

// FetchOne runs a query and returns its first row, or nil when the result is
// empty.
func (d *Database) FetchOne(ctx context.Context, query any, args ...any) (pool.Row, error) {
	sql, err := serializeQuery(query)
	if err != nil {
		return nil, err
	}
	return d.pool.FetchOne(ctx, sql, args...)
}

// FetchAll runs a query and materialises every result row.
func (d *Database) FetchAll(ctx context.Context, query any, args ...any) ([]pool.Row, error) {
	sql, err := serializeQuery(query)
	if err != nil {
		return nil, err
	}
	return d.pool.FetchAll(ctx, sql, args...)
}

// FetchIter runs a query and returns a lazy iterator over its rows, buffering
// from the wire in bounded batches.
func (d *Database) FetchIter(ctx context.Context, query any, args ...any) (*pool.RowIter, error) {
	sql, err := serializeQuery(query)
	if err != nil {
		return nil, err
	}
	return d.pool.FetchIter(ctx, sql, args...)
}

// Transaction runs fn inside one transaction on one borrowed connection.
func (d *Database) Transaction(ctx context.Context, fn pool.TxFunc) error {
	return d.pool.Transaction(ctx, pool.LevelDefault, fn)
}

// TransactionAt is Transaction with an explicit isolation level for the
// scope.
func (d *Database) TransactionAt(ctx context.Context, level pool.IsolationLevel, fn pool.TxFunc) error {
	return d.pool.Transaction(ctx, level, fn)
}

// Migrate brings the named migration group up to date from src. conf is
// handed through to each script.
func (d *Database) Migrate(ctx context.Context, name string, src migration.Source, conf map[string]any) error {
	return migration.New(ctx, d).Migrate(ctx, name, src, conf)
}

// Close closes every idle connection the pool holds. The Database remains
// usable; later operations open fresh connections.
func (d *Database) Close(ctx context.Context) error {
	return d.pool.CloseAll(ctx)
}

// Recreate drops and recreates the database from scratch. All connections are
// closed first so the server will release the database.
func (d *Database) Recreate(ctx context.Context) error {
	if err := d.Close(ctx); err != nil {
		d.log.WithError(err).Warn("closing pool before recreate")
	}
	if err := Drop(ctx, d.cfg); err != nil {
		return fmt.Errorf("squery: drop %s: %w", d.cfg.Database, err)
	}
	if err := Create(ctx, d.cfg); err != nil {
		return fmt.Errorf("squery: create %s: %w", d.cfg.Database, err)
	}
	return nil
}
