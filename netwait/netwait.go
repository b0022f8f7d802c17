// Package netwait suspends the calling goroutine until a database socket is
// ready for I/O. Drivers built around a poll-based connection state machine
// expose readiness states between protocol steps; the Waiter interprets those
// states and parks the goroutine in the runtime poller until the socket
// becomes readable or writable, leaving every other goroutine runnable.
//
// A process installs its waiter once, before any connection is created, via
// Install. Connection pools pick it up through Default.
package netwait

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

// State is the readiness state reported by a connection mid-operation.
type State int

const (
	// StateReady means the pending operation has completed.
	StateReady State = iota
	// StateRead means the driver is waiting for the socket to become readable.
	StateRead
	// StateWrite means the driver is waiting for the socket to become writable.
	StateWrite
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRead:
		return "read"
	case StateWrite:
		return "write"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBadPollState is returned when a connection reports a readiness state the
// protocol does not define. It is fatal for the operation and never retried.
var ErrBadPollState = errors.New("netwait: bad result from poll")

// Pollable is a connection whose pending operation advances through a
// poll-based state machine.
type Pollable interface {
	// Poll advances the state machine and reports what the connection is
	// waiting on.
	Poll() (State, error)

	// NetConn exposes the socket the pending operation runs over.
	NetConn() net.Conn
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithTimeout caps every individual readiness wait at d.
func WithTimeout(d time.Duration) Option {
	return func(w *Waiter) {
		w.timeout = d
	}
}

// Waiter drives poll-based connections to completion, suspending the calling
// goroutine at socket readiness boundaries.
type Waiter struct {
	timeout time.Duration
}

func New(opts ...Option) *Waiter {
	w := &Waiter{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AwaitReady polls conn until its pending operation completes, waiting on the
// underlying socket between polls. Cancellation or deadline expiry on ctx
// aborts the wait with the context's error.
func (w *Waiter) AwaitReady(ctx context.Context, conn Pollable) error {
	for {
		state, err := conn.Poll()
		if err != nil {
			return err
		}

		switch state {
		case StateReady:
			return nil
		case StateRead:
			err = w.AwaitRead(ctx, conn.NetConn())
		case StateWrite:
			err = w.AwaitWrite(ctx, conn.NetConn())
		default:
			return fmt.Errorf("%w: %v", ErrBadPollState, state)
		}
		if err != nil {
			return err
		}
	}
}

// AwaitRead suspends the calling goroutine until conn is readable.
func (w *Waiter) AwaitRead(ctx context.Context, conn net.Conn) error {
	return w.await(ctx, conn, false)
}

// AwaitWrite suspends the calling goroutine until conn is writable.
func (w *Waiter) AwaitWrite(ctx context.Context, conn net.Conn) error {
	return w.await(ctx, conn, true)
}

func (w *Waiter) await(ctx context.Context, conn net.Conn, write bool) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("netwait: connection %T does not expose its socket", conn)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	setDeadline := conn.SetReadDeadline
	if write {
		setDeadline = conn.SetWriteDeadline
	}

	// Context expiry unblocks the poller wait by forcing the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})
	defer func() {
		stop()
		_ = setDeadline(time.Time{})
	}()

	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	// The first callback invocation returns false so the runtime parks the
	// goroutine until the socket is ready; the second reports completion.
	var polled bool
	ready := func(uintptr) bool {
		wasPolled := polled
		polled = true
		return wasPolled
	}
	if write {
		err = rc.Write(ready)
	} else {
		err = rc.Read(ready)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
			return ctxErr
		}
		return err
	}
	return nil
}

var installed atomic.Pointer[Waiter]

var fallback = New()

// Install makes w the process-wide waiter used for every connection created
// afterwards. Call it once during runtime initialisation, before the first
// connection is opened.
func Install(w *Waiter) {
	installed.Store(w)
}

// Default returns the installed waiter, or an un-bounded one when Install was
// never called.
func Default() *Waiter {
	if w := installed.Load(); w != nil {
		return w
	}
	return fallback
}
