// Package pipeline implements the staged worker framework underlying a
// push: a shared run context, bounded queues of item batches, phases
// running on dedicated goroutines, and buffered output with deferred
// results.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInterrupted is returned from blocking pipeline operations when the
// run context has entered the error state. It signals orderly unwind of
// a phase, not a failure of the phase itself.
var ErrInterrupted = errors.New("phase interrupted")

// Config carries the pipeline tunables.
type Config struct {
	// QueueSize is the max number of batches buffered in each queue.
	// Each entry is itself a potentially large batch of items, so this
	// should be fairly low.
	QueueSize int

	// BatchSize is the desired max batch size for phases operating on
	// batches; generally the max number of items fetched by a single
	// remote query.
	BatchSize int

	// BatchTimeout and BatchMaxTimeout bound how long a phase waits for
	// more input before proceeding with a partial batch. The effective
	// wait scales between the two with the fullness of the phase's
	// output queue.
	BatchTimeout    time.Duration
	BatchMaxTimeout time.Duration

	// OutBatchSize and OutBatchTimeout control implicit output flushes.
	OutBatchSize    int
	OutBatchTimeout time.Duration

	// OutMaxFutures caps outstanding deferred results per phase.
	OutMaxFutures int

	// JoinTimeout bounds phase shutdown. It exists as a deadlock guard
	// only and should be very large.
	JoinTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 100 * time.Millisecond
	}
	if c.BatchMaxTimeout <= 0 {
		c.BatchMaxTimeout = 60 * time.Second
	}
	if c.OutBatchSize <= 0 {
		c.OutBatchSize = 100
	}
	if c.OutBatchTimeout <= 0 {
		c.OutBatchTimeout = 10 * time.Second
	}
	if c.OutMaxFutures <= 0 {
		c.OutMaxFutures = 10
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 200000 * time.Second
	}
	return c
}

// Context groups all phases of one run under a single execution context
// which can be stopped on demand, and shares a small amount of
// out-of-band mutable state between phases.
type Context[T any] struct {
	cfg    Config
	runCtx context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	err      error
	errPhase string

	queuesMu sync.Mutex
	queues   []*Queue[T]

	// Items aggregates item-discovery info across phases.
	Items ItemInfo
}

func NewContext[T any](ctx context.Context, cfg Config) *Context[T] {
	runCtx, cancel := context.WithCancelCause(ctx)
	return &Context[T]{
		cfg:    cfg.withDefaults(),
		runCtx: runCtx,
		cancel: cancel,
	}
}

// RunContext is the context under which all blocking work of the run
// executes. It is canceled when any phase records a fatal error.
func (c *Context[T]) RunContext() context.Context { return c.runCtx }

// SetError puts the context into the error state. Only the first error
// is recorded; all phases are interrupted either way.
func (c *Context[T]) SetError(phase string, err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		c.errPhase = phase
	}
	c.mu.Unlock()
	c.cancel(err)
}

// Error returns the recorded fatal error and the phase which hit it.
func (c *Context[T]) Error() (phase string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errPhase, c.err
}

func (c *Context[T]) HasError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// Interrupted reports whether blocking pipeline work should stop.
func (c *Context[T]) Interrupted() bool {
	return c.runCtx.Err() != nil
}

// Shutdown cancels the run context without recording an error. Called
// once all phases have completed.
func (c *Context[T]) Shutdown() {
	c.cancel(nil)
}

// QueueCounts is a snapshot of item traffic through every queue, usable
// to estimate pipeline progress.
func (c *Context[T]) QueueCounts() []QueueCounts {
	c.queuesMu.Lock()
	defer c.queuesMu.Unlock()

	out := make([]QueueCounts, 0, len(c.queues))
	for _, q := range c.queues {
		out = append(out, q.Counts())
	}
	return out
}

// ItemInfo holds aggregate info about the items of a run: the total item
// count once discovery completes, and per-destination counters for items
// which other items may depend on.
type ItemInfo struct {
	mu              sync.Mutex
	known           bool
	count           int
	depCountPerDest map[string]int
}

// SetKnown records that discovery has completed, with the total item
// count and the per-destination dependency counters.
func (i *ItemInfo) SetKnown(count int, depCountPerDest map[string]int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.known = true
	i.count = count
	i.depCountPerDest = depCountPerDest
}

// Known reports whether all items have been discovered.
func (i *ItemInfo) Known() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.known
}

// Count returns the total number of items. Valid only once Known.
func (i *ItemInfo) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}

// DepCount returns the number of dependency items destined for the given
// destination. Valid only once Known.
func (i *ItemInfo) DepCount(dest string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.depCountPerDest[dest]
}
