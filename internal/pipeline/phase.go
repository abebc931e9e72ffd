package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/pkg/logger"
)

// PhaseConfig wires a phase into the pipeline.
type PhaseConfig[T any] struct {
	// In is the phase's input queue; nil for source phases.
	In *Queue[T]

	// Out is the phase's output queue. If nil and Sink is false, a new
	// queue is created.
	Out *Queue[T]

	// Sink marks a phase with no output queue.
	Sink bool

	// NotifyStartup delays the "started" log until NotifyStarted is
	// called, for phases whose true start is delayed by internal
	// buffering.
	NotifyStartup bool

	// UpdatesPushItems forwards every flushed output batch to the
	// Collect hook, for phases whose outputs represent a significant
	// item state change.
	UpdatesPushItems bool

	// Collect receives item batches destined for the Collect phase.
	Collect func([]T) error
}

// Phase is one concurrent processing step of the pipeline. It runs on a
// dedicated goroutine, reading batches from its input queue and writing
// through an output buffer to its output queue.
//
// Concrete phases embed *Phase and supply their logic as the run
// function.
type Phase[T any] struct {
	pctx    *Context[T]
	name    string
	machine string
	log     logger.Logger

	in  *Queue[T]
	out *Queue[T]
	buf *outputBuffer[T]

	runFn   func() error
	collect func([]T) error

	startupNotify bool
	started       atomic.Bool
	inputClaimed  atomic.Bool

	// input re-batching state, touched only by the phase goroutine
	inPending []T
	inEOS     bool

	done chan struct{}
}

func NewPhase[T any](pctx *Context[T], log logger.Logger, name string, cfg PhaseConfig[T], run func() error) *Phase[T] {
	machine := strings.ToLower(strings.ReplaceAll(name, " ", "-"))

	p := &Phase[T]{
		pctx:          pctx,
		name:          name,
		machine:       machine,
		log:           log,
		in:            cfg.In,
		out:           cfg.Out,
		runFn:         run,
		collect:       cfg.Collect,
		startupNotify: cfg.NotifyStartup,
		done:          make(chan struct{}),
	}

	if p.in != nil {
		// The input queue is named after the phase consuming it.
		p.in.name = machine
	}
	if p.out == nil && !cfg.Sink {
		p.out = pctx.NewQueue(machine + "-out")
	}
	if p.out != nil {
		p.buf = newOutputBuffer(pctx, p.out)
		if cfg.UpdatesPushItems && cfg.Collect != nil {
			p.buf.onFlush = cfg.Collect
		}
	}

	return p
}

func (p *Phase[T]) Name() string                { return p.name }
func (p *Phase[T]) Out() *Queue[T]              { return p.out }
func (p *Phase[T]) Context() *Context[T]        { return p.pctx }
func (p *Phase[T]) Logger() logger.Logger       { return p.log }
func (p *Phase[T]) RunContext() context.Context { return p.pctx.runCtx }

// BatchSize returns the configured default input batch size.
func (p *Phase[T]) BatchSize() int { return p.pctx.cfg.BatchSize }

// Start launches the phase goroutine.
func (p *Phase[T]) Start() {
	if p.in == nil && !p.startupNotify {
		p.markStarted()
	}
	go p.main()
}

// Join awaits phase completion. The timeout is a deadlock guard, not
// control flow; a phase overrunning it is reported and abandoned.
func (p *Phase[T]) Join() bool {
	timer := time.NewTimer(p.pctx.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		p.log.Error(p.name+": did not stop in time, possible deadlock",
			zap.String("event", p.machine+"-stuck"))
		return false
	}
}

// NotifyStarted marks the phase as started, for phases constructed with
// NotifyStartup.
func (p *Phase[T]) NotifyStarted() {
	p.markStarted()
}

func (p *Phase[T]) markStarted() {
	if p.started.CompareAndSwap(false, true) {
		p.log.Info(p.name+": started", zap.String("event", p.machine+"-start"))
	}
}

func (p *Phase[T]) main() {
	defer close(p.done)

	err := p.runFn()
	if err == nil && p.buf != nil {
		err = p.buf.Flush(true)
	}

	switch {
	case err == nil:
		p.log.Info(p.name+": finished", zap.String("event", p.machine+"-end"))
		if p.out != nil {
			p.out.Close()
		}
	case isInterruption(err):
		// Another phase hit the fatal error; the relevant details have
		// already been logged there.
		p.log.Error(p.name+": interrupted", zap.String("event", p.machine+"-error"))
		if p.buf != nil {
			p.buf.Cancel()
		}
	default:
		p.log.Error(p.name+": fatal error occurred",
			zap.String("event", p.machine+"-error"), zap.Error(err))
		p.pctx.SetError(p.name, err)
		if p.buf != nil {
			p.buf.Cancel()
		}
	}
}

func isInterruption(err error) bool {
	return errors.Is(err, ErrInterrupted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// EachItem iterates the phase's input one item at a time. It stops at
// end-of-stream and returns ErrInterrupted if the run is interrupted.
func (p *Phase[T]) EachItem(fn func(T) error) error {
	return p.EachBatch(1, func(batch []T) error {
		return fn(batch[0])
	})
}

// EachBatch iterates the phase's input in batches of up to size items.
// The wait for a full batch scales with the output queue's fullness: an
// empty output queue means downstream is starved, so partial batches are
// passed on quickly; a full output queue already applies backpressure,
// so longer waits amortize per-batch overhead.
//
// The input may be iterated only once.
func (p *Phase[T]) EachBatch(size int, fn func([]T) error) error {
	if p.in == nil {
		panic("BUG: phase has no input queue")
	}
	if !p.inputClaimed.CompareAndSwap(false, true) {
		panic("BUG: phase input iterated more than once")
	}
	if size <= 0 {
		size = p.pctx.cfg.BatchSize
	}

	for {
		batch, eos, err := p.nextBatch(size)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if eos {
			return nil
		}
	}
}

// nextBatch returns up to size input items, waiting at most batchWait
// for a full batch once the first item has arrived.
func (p *Phase[T]) nextBatch(size int) (batch []T, eos bool, err error) {
	if len(p.inPending) == 0 && !p.inEOS {
		got, eos, err := p.in.Get()
		if err != nil {
			return nil, false, err
		}
		if eos {
			p.inEOS = true
		} else {
			p.onInput()
			p.inPending = got
		}
	}

	deadline := time.Now().Add(p.batchWait())
	for len(p.inPending) < size && !p.inEOS {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		got, eos, err := p.in.GetTimeout(remaining)
		if errors.Is(err, errGetTimeout) {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if eos {
			p.inEOS = true
			break
		}
		p.onInput()
		p.inPending = append(p.inPending, got...)
	}

	n := min(size, len(p.inPending))
	batch = p.inPending[:n:n]
	p.inPending = p.inPending[n:]
	return batch, p.inEOS && len(p.inPending) == 0, nil
}

func (p *Phase[T]) onInput() {
	if !p.startupNotify {
		p.markStarted()
	}
}

func (p *Phase[T]) batchWait() time.Duration {
	lo := p.pctx.cfg.BatchTimeout
	hi := p.pctx.cfg.BatchMaxTimeout
	if p.out == nil || p.out.Cap() == 0 {
		return lo
	}
	fullness := float64(p.out.Len()) / float64(p.out.Cap())
	return lo + time.Duration(fullness*float64(hi-lo))
}

// Write puts a single item onto the phase's output buffer.
func (p *Phase[T]) Write(item T) error {
	p.checkWritable()
	return p.buf.Write(item)
}

// WriteFuture schedules fn and buffers its result as a deferred output.
// Blocks when the cap on outstanding deferred results is reached,
// providing backpressure on concurrent remote calls.
func (p *Phase[T]) WriteFuture(fn func(context.Context) (T, error)) error {
	return p.WriteFutureBatch(func(ctx context.Context) ([]T, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return []T{v}, nil
	})
}

// WriteFutureBatch is like WriteFuture for a batch-producing fn. More
// efficient than N calls to WriteFuture.
func (p *Phase[T]) WriteFutureBatch(fn func(context.Context) ([]T, error)) error {
	p.checkWritable()
	return p.buf.WriteFuture(fn)
}

func (p *Phase[T]) checkWritable() {
	if p.buf == nil {
		panic("BUG: write attempted by phase with no output queue")
	}
}

// UpdatePushItems sends the given items to the Collect hook, recording
// their current state out-of-band.
func (p *Phase[T]) UpdatePushItems(items []T) error {
	if p.collect == nil || len(items) == 0 {
		return nil
	}
	return p.collect(items)
}
