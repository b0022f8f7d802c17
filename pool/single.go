package pool

import (
	"context"
	"sync"
)

// singleReservoir serves pools of exactly one connection. Single-threaded and
// test-harness callers gain nothing from queueing semantics, and a purely
// sequential caller could even deadlock against itself waiting on a queue, so
// size-one pools reuse one slot instead.
type singleReservoir struct {
	factory Factory

	mu   sync.Mutex
	conn Connection
}

func newSingleReservoir(factory Factory) *singleReservoir {
	return &singleReservoir{factory: factory}
}

func (r *singleReservoir) acquire(ctx context.Context) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := openConnection(ctx, r.factory)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}
	return r.conn, nil
}

func (r *singleReservoir) release(_ context.Context, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

func (r *singleReservoir) closeAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(ctx)
	r.conn = nil
	return err
}
