package migration

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/outernet-project/squery/pool"
)

// memDB is an in-memory stand-in for the database facade: it keeps version
// records, models the metadata table's existence, and gives transactions
// staged-write semantics so a failing scope leaves nothing behind.
type memDB struct {
	tableExists bool
	versions    map[string]int

	recreated int
	scripts   []string
	fetchErr  error
}

func newMemDB(tableExists bool) *memDB {
	return &memDB{tableExists: tableExists, versions: map[string]int{}}
}

func (db *memDB) FetchOne(_ context.Context, _ any, args ...any) (pool.Row, error) {
	if db.fetchErr != nil {
		return nil, db.fetchErr
	}
	if !db.tableExists {
		return nil, &pgconn.PgError{Code: "42P01", Message: `relation "migrations" does not exist`}
	}
	version, ok := db.versions[args[0].(string)]
	if !ok {
		return nil, nil
	}
	return pool.Row{"version": int32(version)}, nil
}

func (db *memDB) Execute(_ context.Context, query any, args ...any) (int64, error) {
	if query == setVersionSQL {
		db.versions[args[0].(string)] = args[1].(int)
	}
	return 1, nil
}

func (db *memDB) ExecuteScript(_ context.Context, sql string) error {
	db.scripts = append(db.scripts, sql)
	if strings.Contains(sql, "CREATE TABLE migrations") {
		db.tableExists = true
	}
	return nil
}

func (db *memDB) Transaction(ctx context.Context, fn pool.TxFunc) error {
	conn := &memConn{staged: map[string]int{}}
	if err := fn(ctx, conn); err != nil {
		return err
	}
	for name, version := range conn.staged {
		db.versions[name] = version
	}
	return nil
}

func (db *memDB) Recreate(context.Context) error {
	db.recreated++
	db.versions = map[string]int{}
	db.tableExists = false
	return nil
}

// memConn satisfies just enough of the connection contract for scripts and
// version writes; writes stay staged until the transaction commits them.
type memConn struct {
	staged   map[string]int
	executed []string
	scripts  []string
}

func (c *memConn) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	c.executed = append(c.executed, sql)
	if sql == setVersionSQL {
		c.staged[args[0].(string)] = args[1].(int)
	}
	return 1, nil
}

func (c *memConn) Query(_ context.Context, _ string, _ ...any) (pool.Rows, error) {
	return nil, nil
}

func (c *memConn) ExecScript(_ context.Context, sql string) error {
	c.scripts = append(c.scripts, sql)
	return nil
}

func (c *memConn) Begin(context.Context) error    { return nil }
func (c *memConn) Commit(context.Context) error   { return nil }
func (c *memConn) Rollback(context.Context) error { return nil }

func (c *memConn) IsolationLevel() pool.IsolationLevel { return pool.LevelDefault }
func (c *memConn) SetIsolationLevel(context.Context, pool.IsolationLevel) error {
	return nil
}

func (c *memConn) IsClosed() bool              { return false }
func (c *memConn) Close(context.Context) error { return nil }
