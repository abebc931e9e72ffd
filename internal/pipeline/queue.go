package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// errGetTimeout is returned by timed queue reads which expire without
// data. Internal to the package; phases translate it into partial
// batches.
var errGetTimeout = errors.New("queue get timed out")

// QueueCounts is a point-in-time traffic snapshot for one queue.
type QueueCounts struct {
	Name string
	Put  int64
	Get  int64
}

// Queue is a bounded, ordered channel of item batches linking two
// phases. It carries only non-empty batches; end-of-stream is signaled
// by Close, after which no consumer observes further items.
type Queue[T any] struct {
	name string
	pctx *Context[T]
	ch   chan []T

	closeOnce sync.Once
	puts      atomic.Int64
	gets      atomic.Int64
}

// NewQueue creates a bounded queue associated with this context. The
// queue participates in progress counting, and all blocking operations
// on it are interrupted when the context enters the error state.
func (c *Context[T]) NewQueue(name string) *Queue[T] {
	q := &Queue[T]{
		name: name,
		pctx: c,
		ch:   make(chan []T, c.cfg.QueueSize),
	}
	c.queuesMu.Lock()
	c.queues = append(c.queues, q)
	c.queuesMu.Unlock()
	return q
}

func (q *Queue[T]) Name() string { return q.name }

// Put blocks until the batch is enqueued or the run is interrupted.
// Empty batches are dropped.
func (q *Queue[T]) Put(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	select {
	case q.ch <- batch:
		q.puts.Add(int64(len(batch)))
		return nil
	case <-q.pctx.runCtx.Done():
		return ErrInterrupted
	}
}

// Get blocks until a batch is available. eos is true once the queue has
// been closed and drained.
func (q *Queue[T]) Get() (batch []T, eos bool, err error) {
	select {
	case batch, ok := <-q.ch:
		if !ok {
			return nil, true, nil
		}
		q.gets.Add(int64(len(batch)))
		return batch, false, nil
	case <-q.pctx.runCtx.Done():
		return nil, false, ErrInterrupted
	}
}

// GetTimeout is like Get but gives up after d, returning errGetTimeout.
func (q *Queue[T]) GetTimeout(d time.Duration) (batch []T, eos bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case batch, ok := <-q.ch:
		if !ok {
			return nil, true, nil
		}
		q.gets.Add(int64(len(batch)))
		return batch, false, nil
	case <-timer.C:
		return nil, false, errGetTimeout
	case <-q.pctx.runCtx.Done():
		return nil, false, ErrInterrupted
	}
}

// Close marks end-of-stream. Safe to call more than once; no Put may
// follow the first Close.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len returns the number of buffered batches.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the max number of buffered batches.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Counts returns the queue's cumulative item traffic.
func (q *Queue[T]) Counts() QueueCounts {
	return QueueCounts{Name: q.name, Put: q.puts.Load(), Get: q.gets.Load()}
}
