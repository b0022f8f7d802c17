package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/outernet-project/squery/netwait"
)

// multiReservoir is the bounded variant: a queue of idle connections plus a
// counter of live ones. A connection is either checked out by exactly one
// borrower or idle in the queue, and the live counter never exceeds maxSize.
type multiReservoir struct {
	factory Factory
	maxSize int

	mu   sync.Mutex
	size int
	idle chan Connection
	wake chan struct{}
}

func newMultiReservoir(factory Factory, maxSize int) *multiReservoir {
	return &multiReservoir{
		factory: factory,
		maxSize: maxSize,
		idle:    make(chan Connection, maxSize),
		wake:    make(chan struct{}, maxSize),
	}
}

func (r *multiReservoir) acquire(ctx context.Context) (Connection, error) {
	for {
		r.mu.Lock()
		if r.size < r.maxSize && len(r.idle) == 0 {
			r.size++
			r.mu.Unlock()

			conn, err := openConnection(ctx, r.factory)
			if err != nil {
				r.mu.Lock()
				r.size--
				r.mu.Unlock()
				// The slot this acquire claimed is free again; a parked
				// waiter may be able to use it.
				r.wakeOne()
				return nil, err
			}
			return conn, nil
		}
		r.mu.Unlock()

		// Pool exhausted or an idle connection is available: park until a
		// release hands one over, or until dropped capacity frees a slot
		// worth retrying creation for. Handed-over connections are served in
		// FIFO order.
		select {
		case conn := <-r.idle:
			return conn, nil
		case <-r.wake:
		case <-ctx.Done():
			return nil, fmt.Errorf("pool: waiting for connection: %w", ctx.Err())
		}
	}
}

func (r *multiReservoir) release(ctx context.Context, conn Connection) {
	if conn == nil {
		return
	}
	if conn.IsClosed() {
		r.mu.Lock()
		r.size--
		r.mu.Unlock()
		r.wakeOne()
		return
	}
	select {
	case r.idle <- conn:
	default:
		// Not one of ours, or released twice: close rather than exceed the
		// queue bound.
		_ = conn.Close(ctx)
	}
}

func (r *multiReservoir) closeAll(ctx context.Context) error {
	var errs []error
	for {
		select {
		case conn := <-r.idle:
			if err := conn.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			r.mu.Lock()
			r.size--
			r.mu.Unlock()
			r.wakeOne()
		default:
			return errors.Join(errs...)
		}
	}
}

// wakeOne unparks at most one goroutine blocked in acquire so it can re-check
// creation capacity. Dropping the token when nobody is parked is fine: the
// capacity check happens before parking.
func (r *multiReservoir) wakeOne() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// openConnection creates one physical connection and, when the driver exposes
// a poll-based state machine still mid-handshake, drives it to readiness
// through the process waiter.
func openConnection(ctx context.Context, factory Factory) (Connection, error) {
	conn, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if pollable, ok := conn.(netwait.Pollable); ok {
		if err = netwait.Default().AwaitReady(ctx, pollable); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}
	return conn, nil
}
