package pool

import (
	"context"
	"time"
)

// RowIter is a lazy, finite, non-restartable sequence of result rows. It
// holds one pooled connection inside an open transaction until the sequence
// is exhausted or closed, buffering rows from the wire in bounded batches so
// the full result set is never materialised at once.
type RowIter struct {
	pool *Pool
	conn Connection
	rows Rows

	batchSize int
	batch     []Row
	idx       int

	current Row
	err     error
	done    bool
}

// FetchIter runs a query and returns an iterator over its rows. The caller
// must drain the iterator or Close it; either returns the underlying
// connection to the pool.
func (p *Pool) FetchIter(ctx context.Context, sql string, args ...any) (*RowIter, error) {
	began := time.Now()
	conn, err := p.res.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err = conn.Begin(ctx); err != nil {
		p.finishIterConn(ctx, conn, err)
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		p.finishIterConn(ctx, conn, err)
		return nil, err
	}
	p.qlog.observe(ctx, began, sql, -1, nil)

	return &RowIter{
		pool:      p,
		conn:      conn,
		rows:      rows,
		batchSize: p.opts.FetchBatchSize,
	}, nil
}

// Next advances the iterator, reporting false once the sequence ends. After
// Next returns false the connection has been returned to the pool and Err
// reports how the sequence terminated.
func (it *RowIter) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	it.idx++
	if it.idx < len(it.batch) {
		it.current = it.batch[it.idx]
		return true
	}

	if !it.fillBatch() {
		it.finish(ctx)
		return false
	}
	it.current = it.batch[0]
	return true
}

// Row returns the row Next advanced to.
func (it *RowIter) Row() Row {
	return it.current
}

// Err reports the error, if any, that ended iteration early.
func (it *RowIter) Err() error {
	return it.err
}

// Close abandons the sequence and returns the connection to the pool. It is
// safe to call after exhaustion and reports the error, if any, that ended the
// sequence.
func (it *RowIter) Close(ctx context.Context) error {
	if !it.done {
		it.finish(ctx)
	}
	return it.err
}

func (it *RowIter) fillBatch() bool {
	it.batch = it.batch[:0]
	it.idx = 0
	for len(it.batch) < it.batchSize && it.rows.Next() {
		row, err := it.rows.Values()
		if err != nil {
			it.err = err
			return false
		}
		it.batch = append(it.batch, row)
	}
	if err := it.rows.Err(); err != nil {
		it.err = err
		return false
	}
	return len(it.batch) > 0
}

func (it *RowIter) finish(ctx context.Context) {
	it.done = true
	it.rows.Close()
	if err := it.pool.finishIterConn(ctx, it.conn, it.err); err != nil && it.err == nil {
		it.err = err
	}
	it.conn = nil
	it.batch = nil
	it.current = nil
}

// finishIterConn applies the transaction exit rules to a connection borrowed
// for streaming: commit on clean exhaustion, rollback on failure, reservoir
// flush when the connection itself was lost. A failed commit is the only
// reported error; with a cause already in hand the cleanup stays best-effort.
func (p *Pool) finishIterConn(ctx context.Context, conn Connection, cause error) error {
	if conn.IsClosed() {
		p.res.release(ctx, conn)
		if flushErr := p.res.closeAll(ctx); flushErr != nil {
			p.log.WithError(flushErr).Warn("flushing reservoir after lost connection")
		}
		return nil
	}
	if cause != nil {
		if err := conn.Rollback(ctx); err != nil {
			p.log.WithError(err).Error("row iterator rollback failed")
			_ = conn.Close(ctx)
		}
		p.res.release(ctx, conn)
		return nil
	}
	if err := conn.Commit(ctx); err != nil {
		p.log.WithError(err).Error("row iterator commit failed")
		_ = conn.Close(ctx)
		p.res.release(ctx, conn)
		return err
	}
	p.res.release(ctx, conn)
	return nil
}
