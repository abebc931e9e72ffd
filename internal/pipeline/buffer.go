package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

type futureResult[T any] struct {
	items []T
	err   error
}

// outputBuffer holds output from a single phase: a batch of items not
// yet sent to the output queue, plus pending deferred results. Items are
// sent when the buffer is flushed, either explicitly or implicitly per
// size and time thresholds.
//
// All writes must come from the phase's own goroutine; this is checked
// at runtime.
type outputBuffer[T any] struct {
	pctx  *Context[T]
	queue *Queue[T]

	flushThreshold int
	flushInterval  time.Duration
	maxFutures     int

	// onFlush, if set, receives every flushed batch in addition to the
	// output queue.
	onFlush func([]T) error

	writing atomic.Bool

	pending     []T
	outstanding int
	results     chan futureResult[T]
	lastFlush   time.Time
}

func newOutputBuffer[T any](pctx *Context[T], queue *Queue[T]) *outputBuffer[T] {
	cfg := pctx.cfg
	return &outputBuffer[T]{
		pctx:           pctx,
		queue:          queue,
		flushThreshold: cfg.OutBatchSize,
		flushInterval:  cfg.OutBatchTimeout,
		maxFutures:     cfg.OutMaxFutures,
		results:        make(chan futureResult[T], cfg.OutMaxFutures),
	}
}

func (b *outputBuffer[T]) enterWrite() func() {
	if !b.writing.CompareAndSwap(false, true) {
		panic("BUG: concurrent writes to output buffer")
	}
	return func() { b.writing.Store(false) }
}

// Write adds a single item into the buffer. May flush if thresholds are
// hit.
func (b *outputBuffer[T]) Write(item T) error {
	defer b.enterWrite()()

	if b.pctx.Interrupted() {
		return ErrInterrupted
	}
	b.pending = append(b.pending, item)
	return b.maybeFlush()
}

// WriteFuture schedules fn on its own goroutine and buffers its eventual
// result. Blocks while the number of outstanding results is at the cap.
func (b *outputBuffer[T]) WriteFuture(fn func(context.Context) ([]T, error)) error {
	defer b.enterWrite()()

	if b.pctx.Interrupted() {
		return ErrInterrupted
	}
	if err := b.ensureFuturesBelow(b.maxFutures); err != nil {
		return err
	}

	b.outstanding++
	go func() {
		items, err := fn(b.pctx.runCtx)
		// Never blocks: the channel has capacity for every
		// outstanding future.
		b.results <- futureResult[T]{items: items, err: err}
	}()

	return b.maybeFlush()
}

// Flush sends pending items to the output queue as a single batch. With
// awaitFutures, all outstanding deferred results are first awaited and
// any failure propagated; otherwise only already-completed results are
// folded in.
func (b *outputBuffer[T]) Flush(awaitFutures bool) error {
	defer b.enterWrite()()
	return b.flushLocked(awaitFutures)
}

func (b *outputBuffer[T]) flushLocked(awaitFutures bool) error {
	if awaitFutures {
		if err := b.ensureFuturesBelow(1); err != nil {
			return err
		}
	} else if err := b.drainDone(); err != nil {
		return err
	}

	if len(b.pending) > 0 {
		batch := b.pending
		b.pending = nil
		if b.onFlush != nil {
			if err := b.onFlush(batch); err != nil {
				return err
			}
		}
		if err := b.queue.Put(batch); err != nil {
			return err
		}
	}
	b.lastFlush = time.Now()
	return nil
}

// Cancel discards buffered items and abandons outstanding results. The
// deferred goroutines run under the (now canceled) run context and drain
// into the buffered results channel.
func (b *outputBuffer[T]) Cancel() {
	defer b.enterWrite()()
	b.pending = nil
}

// ensureFuturesBelow blocks until fewer than n results are outstanding,
// folding completed results into the pending batch.
func (b *outputBuffer[T]) ensureFuturesBelow(n int) error {
	for b.outstanding >= n {
		select {
		case res := <-b.results:
			b.outstanding--
			if res.err != nil {
				return res.err
			}
			b.pending = append(b.pending, res.items...)
		case <-b.pctx.runCtx.Done():
			return ErrInterrupted
		}
	}
	return nil
}

// drainDone folds in any already-completed results without waiting.
func (b *outputBuffer[T]) drainDone() error {
	for {
		select {
		case res := <-b.results:
			b.outstanding--
			if res.err != nil {
				return res.err
			}
			b.pending = append(b.pending, res.items...)
		default:
			return nil
		}
	}
}

func (b *outputBuffer[T]) maybeFlush() error {
	if b.lastFlush.IsZero() {
		b.lastFlush = time.Now()
	}
	if len(b.pending) >= b.flushThreshold || time.Since(b.lastFlush) > b.flushInterval {
		return b.flushLocked(false)
	}
	return nil
}
