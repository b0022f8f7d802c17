package pool

import (
	"context"
)

// IsolationLevel names a transaction isolation level requested for a pooled
// connection's session. The zero value leaves the server default in place.
type IsolationLevel string

const (
	// LevelDefault keeps whatever isolation the session already has.
	LevelDefault IsolationLevel = ""
	// LevelReadCommitted is the PostgreSQL default.
	LevelReadCommitted IsolationLevel = "READ COMMITTED"
	LevelRepeatableRead IsolationLevel = "REPEATABLE READ"
	LevelSerializable   IsolationLevel = "SERIALIZABLE"
	// LevelAutocommit disables the transaction scope entirely: statements take
	// effect as they execute, with no surrounding BEGIN/COMMIT. Administrative
	// statements such as CREATE DATABASE require it.
	LevelAutocommit IsolationLevel = "AUTOCOMMIT"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Rows is a forward-only stream of result rows.
type Rows interface {
	// Next advances to the following row, reporting false once the stream is
	// exhausted or an error occurred.
	Next() bool

	// Values returns the current row.
	Values() (Row, error)

	// Err reports the error, if any, that terminated iteration.
	Err() error

	// Close releases resources held by the stream. It is safe to call more
	// than once.
	Close()
}

// Connection is one physical database connection. The pool that created it is
// its exclusive owner and the only component permitted to close it; borrowers
// use it for the duration of a single operation or transaction.
type Connection interface {
	// Exec runs a statement and returns the number of rows it affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query runs a statement and streams its result rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// ExecScript runs a script of one or more statements in a single round
	// trip, outside any prepared-statement machinery.
	ExecScript(ctx context.Context, sql string) error

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// IsolationLevel reports the level most recently set on this session.
	IsolationLevel() IsolationLevel

	// SetIsolationLevel changes the session's isolation level. Passing
	// LevelDefault resets the session to the server default.
	SetIsolationLevel(ctx context.Context, level IsolationLevel) error

	// IsClosed reports whether the connection is no longer usable, whether
	// closed deliberately or lost underneath us.
	IsClosed() bool

	Close(ctx context.Context) error
}

// Factory opens one new physical connection. Pools call it on demand, up to
// their configured size.
type Factory func(ctx context.Context) (Connection, error)
