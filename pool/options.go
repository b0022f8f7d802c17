package pool

import (
	"time"
)

const (
	// DefaultMaxSize bounds a pool when no size is configured.
	DefaultMaxSize = 5
	// DefaultFetchBatchSize is how many rows FetchIter buffers per batch.
	DefaultFetchBatchSize = 1000
	// DefaultSlowQueryThreshold marks queries worth warning about.
	DefaultSlowQueryThreshold = 200 * time.Millisecond
)

// Option configures a Pool.
type Option func(*Options)

// Options holds pool configuration. Immutable once the pool is constructed.
type Options struct {
	MaxSize            int
	FetchBatchSize     int
	LogQueries         bool
	SlowQueryThreshold time.Duration
}

func defaultOptions() *Options {
	return &Options{
		MaxSize:            DefaultMaxSize,
		FetchBatchSize:     DefaultFetchBatchSize,
		SlowQueryThreshold: DefaultSlowQueryThreshold,
	}
}

// WithMaxSize returns an Option bounding the number of live connections.
func WithMaxSize(maxSize int) Option {
	return func(o *Options) {
		o.MaxSize = maxSize
	}
}

// WithFetchBatchSize returns an Option setting the FetchIter batch size.
func WithFetchBatchSize(batchSize int) Option {
	return func(o *Options) {
		o.FetchBatchSize = batchSize
	}
}

// WithQueryLogging returns an Option enabling per-query debug logging.
func WithQueryLogging(logQueries bool) Option {
	return func(o *Options) {
		o.LogQueries = logQueries
	}
}

// WithSlowQueryThreshold returns an Option setting the duration past which a
// query is logged as slow.
func WithSlowQueryThreshold(threshold time.Duration) Option {
	return func(o *Options) {
		o.SlowQueryThreshold = threshold
	}
}
