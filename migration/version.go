// Package migration tracks and applies schema migrations. Each migration
// group carries a two-part version: the minor number orders scripts within a
// line of development, while the major number groups them, so operators can
// deliberately drop a whole line of historical migrations and restart a new
// major line at minor zero without that state becoming indistinguishable from
// a database that was never migrated at all.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pitabwire/util"

	"github.com/outernet-project/squery/pool"
)

// Table is the migration metadata table. Its layout is shared with other
// implementations and must not change.
const Table = "migrations"

// versionMultiplier shifts the major version above the stored integer's four
// low digits, which carry the minor.
const versionMultiplier = 10000

const (
	getVersionSQL = "SELECT version FROM migrations WHERE name = $1"
	setVersionSQL = "INSERT INTO migrations (name, version) VALUES ($1, $2) " +
		"ON CONFLICT (name) DO UPDATE SET version = EXCLUDED.version"

	createTableSQL = `
CREATE TABLE migrations
(
    name varchar primary key,
    version integer null
);
`
)

// Pack folds a (major, minor) version pair into the single integer stored in
// the metadata table. Callers keep 0 <= minor < 10000.
func Pack(major, minor int) int {
	return major*versionMultiplier + minor
}

// Unpack splits a stored version integer back into its major and minor parts.
func Unpack(version int) (major, minor int) {
	minor = version % versionMultiplier
	major = (version - minor) / versionMultiplier
	return major, minor
}

// DB is the slice of the database facade the migration machinery borrows
// connections through.
type DB interface {
	// Execute runs a statement in its own transaction.
	Execute(ctx context.Context, query any, args ...any) (int64, error)

	// ExecuteScript runs a multi-statement script without a surrounding
	// transaction.
	ExecuteScript(ctx context.Context, sql string) error

	// FetchOne returns a query's first row, or nil when there is none.
	FetchOne(ctx context.Context, query any, args ...any) (pool.Row, error)

	// Transaction runs fn inside one transaction on one borrowed connection.
	Transaction(ctx context.Context, fn pool.TxFunc) error

	// Recreate drops and recreates the database from scratch.
	Recreate(ctx context.Context) error
}

// Store persists the version reached by each named migration group.
type Store struct {
	db  DB
	log *util.LogEntry
}

func NewStore(ctx context.Context, db DB) *Store {
	return &Store{db: db, log: util.Log(ctx)}
}

// Version returns the current version for name. A present record is unpacked
// and returned; a missing record means the group has never run, so (0, 0) is
// written and returned. A missing metadata table is the first-use signal: the
// whole database is recreated from scratch, the metadata table rebuilt and
// the group initialised at (0, 0).
func (s *Store) Version(ctx context.Context, name string) (major, minor int, err error) {
	row, err := s.db.FetchOne(ctx, getVersionSQL, name)
	if err != nil {
		if isUndefinedTableErr(err) {
			return s.recreate(ctx, name)
		}
		return 0, 0, fmt.Errorf("migration: read version for %q: %w", name, err)
	}

	if row == nil {
		if err = s.SetVersion(ctx, name, 0, 0); err != nil {
			return 0, 0, err
		}
		return 0, 0, nil
	}

	version, err := rowVersion(row)
	if err != nil {
		return 0, 0, fmt.Errorf("migration: version record for %q: %w", name, err)
	}
	major, minor = Unpack(version)
	return major, minor, nil
}

// SetVersion records version (major, minor) for name, inserting or replacing
// the group's record.
func (s *Store) SetVersion(ctx context.Context, name string, major, minor int) error {
	_, err := s.db.Execute(ctx, setVersionSQL, name, Pack(major, minor))
	if err != nil {
		return fmt.Errorf("migration: set version for %q: %w", name, err)
	}
	return nil
}

// recreate is the destructive bootstrap path: with no metadata table there is
// no version history to preserve, so the database is rebuilt from nothing.
func (s *Store) recreate(ctx context.Context, name string) (int, int, error) {
	s.log.WithField("name", name).
		Warn("migration metadata table missing, recreating database from scratch")

	if err := s.db.Recreate(ctx); err != nil {
		return 0, 0, fmt.Errorf("migration: recreate database: %w", err)
	}
	if err := s.db.ExecuteScript(ctx, createTableSQL); err != nil {
		return 0, 0, fmt.Errorf("migration: create metadata table: %w", err)
	}
	if err := s.SetVersion(ctx, name, 0, 0); err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}

func rowVersion(row pool.Row) (int, error) {
	value, ok := row["version"]
	if !ok || value == nil {
		return 0, nil
	}
	switch v := value.(type) {
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected version type %T", value)
	}
}

// isUndefinedTableErr reports whether err is PostgreSQL's undefined_table,
// the one condition Version treats as a bootstrap signal rather than a
// failure.
func isUndefinedTableErr(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
