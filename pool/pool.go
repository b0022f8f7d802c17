package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"
)

// ErrConnClosed is returned when a commit is attempted on a connection that
// reports itself closed. It is fatal for the transaction and never retried.
var ErrConnClosed = errors.New("pool: cannot commit because connection was closed")

// TxFunc runs inside a transaction scope with a borrowed connection. The
// connection is only valid for the duration of the call.
type TxFunc func(ctx context.Context, conn Connection) error

// Pool multiplexes a reservoir of physical database connections across
// concurrently running goroutines. It is the exclusive owner of every
// connection it creates.
type Pool struct {
	res  reservoir
	opts *Options
	log  *util.LogEntry
	qlog *queryLogger
}

// New constructs a pool around factory. A configured max size of one selects
// the single-slot variant; anything larger selects the bounded queue. The
// choice is fixed for the pool's lifetime.
func New(ctx context.Context, factory Factory, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: nil connection factory")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.MaxSize < 1 {
		return nil, fmt.Errorf("pool: max size must be at least 1, got %d", o.MaxSize)
	}
	if o.FetchBatchSize < 1 {
		return nil, fmt.Errorf("pool: fetch batch size must be at least 1, got %d", o.FetchBatchSize)
	}

	var res reservoir
	if o.MaxSize == 1 {
		res = newSingleReservoir(factory)
	} else {
		res = newMultiReservoir(factory, o.MaxSize)
	}

	return &Pool{
		res:  res,
		opts: o,
		log:  util.Log(ctx),
		qlog: newQueryLogger(ctx, o.LogQueries, o.SlowQueryThreshold),
	}, nil
}

// Acquire returns a connection ready for use, blocking the calling goroutine
// until one is available. The caller must hand it back through Release.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	return p.res.acquire(ctx)
}

// Release returns a connection to availability for future Acquire calls.
// Connections found closed are discarded instead.
func (p *Pool) Release(ctx context.Context, conn Connection) {
	p.res.release(ctx, conn)
}

// CloseAll drains the reservoir and closes every idle connection it holds.
// Best-effort: a failure closing one connection does not stop the others.
func (p *Pool) CloseAll(ctx context.Context) error {
	return p.res.closeAll(ctx)
}

// Transaction borrows a connection and runs fn inside a transaction scope.
// On a normal return the transaction commits; committing on a connection that
// died mid-scope fails with ErrConnClosed. On an error return the connection
// is rolled back and requeued, unless it reports itself closed, in which case
// the whole reservoir is flushed: a lost connection may mean every sibling's
// session state is compromised, and recreating connections lazily is cheaper
// than reasoning about a poisoned pool.
//
// A non-default level is set on the session for the scope and restored before
// the connection is released. LevelAutocommit suppresses the BEGIN/COMMIT
// pair entirely.
func (p *Pool) Transaction(ctx context.Context, level IsolationLevel, fn TxFunc) error {
	conn, err := p.res.acquire(ctx)
	if err != nil {
		return err
	}

	restore := LevelDefault
	restoreNeeded := false
	if level != LevelDefault && level != conn.IsolationLevel() {
		restore = conn.IsolationLevel()
		if err = conn.SetIsolationLevel(ctx, level); err != nil {
			p.res.release(ctx, conn)
			return err
		}
		restoreNeeded = true
	}

	autocommit := conn.IsolationLevel() == LevelAutocommit

	err = p.runScope(ctx, conn, autocommit, fn)
	if err != nil {
		if conn.IsClosed() {
			p.res.release(ctx, conn)
			if flushErr := p.res.closeAll(ctx); flushErr != nil {
				p.log.WithError(flushErr).Warn("flushing reservoir after lost connection")
			}
			return err
		}
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			p.log.WithError(rbErr).Error("transaction rollback failed")
			_ = conn.Close(ctx)
			p.res.release(ctx, conn)
			return err
		}
		p.restoreAndRelease(ctx, conn, restore, restoreNeeded)
		return err
	}

	if conn.IsClosed() {
		p.res.release(ctx, conn)
		return ErrConnClosed
	}
	if !autocommit {
		if err = conn.Commit(ctx); err != nil {
			p.restoreAndRelease(ctx, conn, restore, restoreNeeded)
			return err
		}
	}
	p.restoreAndRelease(ctx, conn, restore, restoreNeeded)
	return nil
}

func (p *Pool) runScope(ctx context.Context, conn Connection, autocommit bool, fn TxFunc) error {
	if !autocommit {
		if err := conn.Begin(ctx); err != nil {
			return err
		}
	}
	if err := fn(ctx, conn); err != nil {
		return err
	}
	// Cancellation counts as an error exit even when fn missed it.
	return ctx.Err()
}

func (p *Pool) restoreAndRelease(ctx context.Context, conn Connection, restore IsolationLevel, restoreNeeded bool) {
	if restoreNeeded && !conn.IsClosed() {
		if err := conn.SetIsolationLevel(ctx, restore); err != nil {
			p.log.WithError(err).Warn("restoring isolation level")
			_ = conn.Close(ctx)
		}
	}
	p.res.release(ctx, conn)
}

// Execute runs a statement in its own transaction and returns the number of
// rows it affected.
func (p *Pool) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	began := time.Now()
	var count int64
	err := p.Transaction(ctx, LevelDefault, func(ctx context.Context, conn Connection) error {
		n, execErr := conn.Exec(ctx, sql, args...)
		count = n
		return execErr
	})
	p.qlog.observe(ctx, began, sql, count, err)
	return count, err
}

// ExecuteMany runs one statement per argument tuple inside a single
// transaction, returning the total number of rows affected.
func (p *Pool) ExecuteMany(ctx context.Context, sql string, argSets [][]any) (int64, error) {
	began := time.Now()
	var count int64
	err := p.Transaction(ctx, LevelDefault, func(ctx context.Context, conn Connection) error {
		for _, args := range argSets {
			n, execErr := conn.Exec(ctx, sql, args...)
			if execErr != nil {
				return execErr
			}
			count += n
		}
		return nil
	})
	p.qlog.observe(ctx, began, sql, count, err)
	return count, err
}

// FetchOne runs a query and returns its first row, or nil when the result is
// empty.
func (p *Pool) FetchOne(ctx context.Context, sql string, args ...any) (Row, error) {
	began := time.Now()
	var row Row
	var fetched int64
	err := p.Transaction(ctx, LevelDefault, func(ctx context.Context, conn Connection) error {
		rows, queryErr := conn.Query(ctx, sql, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		if rows.Next() {
			row, queryErr = rows.Values()
			if queryErr != nil {
				return queryErr
			}
			fetched = 1
		}
		return rows.Err()
	})
	p.qlog.observe(ctx, began, sql, fetched, err)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FetchAll runs a query and materialises every result row.
func (p *Pool) FetchAll(ctx context.Context, sql string, args ...any) ([]Row, error) {
	began := time.Now()
	var result []Row
	err := p.Transaction(ctx, LevelDefault, func(ctx context.Context, conn Connection) error {
		rows, queryErr := conn.Query(ctx, sql, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			row, rowErr := rows.Values()
			if rowErr != nil {
				return rowErr
			}
			result = append(result, row)
		}
		return rows.Err()
	})
	p.qlog.observe(ctx, began, sql, int64(len(result)), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}
