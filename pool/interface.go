package pool

import (
	"context"
)

// reservoir holds the idle connections a pool owns. Two variants exist: a
// single mutable slot for pools of size one, and a bounded queue for
// everything else. The variant is chosen once at construction and never
// changes for the pool's lifetime.
type reservoir interface {
	acquire(ctx context.Context) (Connection, error)
	release(ctx context.Context, conn Connection)
	closeAll(ctx context.Context) error
}
