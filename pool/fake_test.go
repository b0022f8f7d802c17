package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeConn is an in-memory Connection for pool behaviour tests.
type fakeConn struct {
	id int

	mu         sync.Mutex
	closed     bool
	level      IsolationLevel
	begun      int
	committed  int
	rolledBack int
	executed   []string
	scripts    []string

	rows      []Row
	execErr   error
	queryErr  error
	commitErr error
	closeErr  error
	execFn    func(sql string, args []any) (int64, error)
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, sql)
	if c.execFn != nil {
		return c.execFn(sql, args)
	}
	if c.execErr != nil {
		return 0, c.execErr
	}
	return 1, nil
}

func (c *fakeConn) Query(_ context.Context, sql string, _ ...any) (Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, sql)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &fakeRows{rows: c.rows}, nil
}

func (c *fakeConn) ExecScript(_ context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, sql)
	return c.execErr
}

func (c *fakeConn) Begin(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun++
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed++
	return c.commitErr
}

func (c *fakeConn) Rollback(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolledBack++
	return nil
}

func (c *fakeConn) IsolationLevel() IsolationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *fakeConn) SetIsolationLevel(_ context.Context, level IsolationLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

type fakeRows struct {
	rows []Row
	idx  int
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() (Row, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

// newFakeFactory returns a Factory producing numbered fakeConns and a counter
// of how many it created.
func newFakeFactory() (Factory, *atomic.Int64) {
	var created atomic.Int64
	factory := func(context.Context) (Connection, error) {
		n := created.Add(1)
		return &fakeConn{id: int(n)}, nil
	}
	return factory, &created
}
