package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/release-engineering/pulp-push/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEachBatch(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	in := pctx.NewQueue("in")
	for i := 0; i < 10; i++ {
		require.NoError(t, in.Put([]int{i}))
	}
	in.Close()

	var batches [][]int
	p := NewPhase(pctx, logger.NewNoopLogger(), "Test batches", PhaseConfig[int]{In: in}, nil)
	p.runFn = func() error {
		return p.EachBatch(3, func(batch []int) error {
			batches = append(batches, batch)
			return nil
		})
	}

	p.Start()
	require.True(t, p.Join())

	require.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9}}, batches)
	require.False(t, pctx.HasError())
}

func TestEachBatchTwicePanics(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	in := pctx.NewQueue("in")
	in.Close()

	p := NewPhase(pctx, logger.NewNoopLogger(), "Test claims", PhaseConfig[int]{In: in}, nil)
	discard := func([]int) error { return nil }

	require.NoError(t, p.EachBatch(1, discard))
	require.Panics(t, func() { _ = p.EachBatch(1, discard) })
}

func TestPutInterruptedOnError(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{QueueSize: 1})
	defer pctx.Shutdown()

	q := pctx.NewQueue("q")
	require.NoError(t, q.Put([]int{1}))

	// The queue is full, so the next Put blocks until the error below
	// releases it.
	errs := make(chan error, 1)
	go func() {
		errs <- q.Put([]int{2})
	}()

	time.Sleep(50 * time.Millisecond)
	pctx.SetError("some phase", errors.New("simulated failure"))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("blocked Put was not released by SetError")
	}
}

func TestFirstErrorWins(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	first := errors.New("first")
	pctx.SetError("phase one", first)
	pctx.SetError("phase two", errors.New("second"))

	phase, err := pctx.Error()
	require.Equal(t, "phase one", phase)
	require.ErrorIs(t, err, first)
}

func TestPhaseFatalErrorInterruptsOthers(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	boom := errors.New("boom")
	failing := NewPhase(pctx, logger.NewNoopLogger(), "Failing phase", PhaseConfig[int]{Sink: true},
		func() error { return boom })

	blockedIn := pctx.NewQueue("blocked")
	blocked := NewPhase(pctx, logger.NewNoopLogger(), "Blocked phase", PhaseConfig[int]{In: blockedIn}, nil)
	blocked.runFn = func() error {
		return blocked.EachItem(func(int) error { return nil })
	}

	// The blocked phase never receives input or end-of-stream; only the
	// failing phase's error lets it stop.
	blocked.Start()
	failing.Start()

	require.True(t, failing.Join())
	require.True(t, blocked.Join())

	phase, err := pctx.Error()
	require.Equal(t, "Failing phase", phase)
	require.ErrorIs(t, err, boom)
}

func TestOutputFlushThreshold(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{OutBatchSize: 3})
	defer pctx.Shutdown()

	p := NewPhase(pctx, logger.NewNoopLogger(), "Test flush", PhaseConfig[int]{}, nil)
	p.runFn = func() error {
		for i := 0; i < 5; i++ {
			if err := p.Write(i); err != nil {
				return err
			}
		}
		return nil
	}

	p.Start()
	require.True(t, p.Join())

	var batches [][]int
	for {
		batch, eos, err := p.Out().Get()
		require.NoError(t, err)
		if eos {
			break
		}
		batches = append(batches, batch)
	}

	// One flush at the threshold, one final flush on completion.
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4}}, batches)
}

func TestWriteFutureResults(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	p := NewPhase(pctx, logger.NewNoopLogger(), "Test futures", PhaseConfig[int]{}, nil)
	p.runFn = func() error {
		for i := 0; i < 4; i++ {
			i := i
			err := p.WriteFuture(func(context.Context) (int, error) {
				return i * 10, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	p.Start()
	require.True(t, p.Join())
	require.False(t, pctx.HasError())

	var got []int
	for {
		batch, eos, err := p.Out().Get()
		require.NoError(t, err)
		if eos {
			break
		}
		got = append(got, batch...)
	}
	require.ElementsMatch(t, []int{0, 10, 20, 30}, got)
}

func TestWriteFutureErrorIsFatal(t *testing.T) {
	pctx := NewContext[int](context.Background(), Config{})
	defer pctx.Shutdown()

	boom := errors.New("remote call failed")
	p := NewPhase(pctx, logger.NewNoopLogger(), "Test future error", PhaseConfig[int]{}, nil)
	p.runFn = func() error {
		return p.WriteFuture(func(context.Context) (int, error) {
			return 0, boom
		})
	}

	p.Start()
	require.True(t, p.Join())

	_, err := pctx.Error()
	require.ErrorIs(t, err, boom)
}

func TestItemInfo(t *testing.T) {
	var info ItemInfo
	require.False(t, info.Known())
	require.Zero(t, info.DepCount("repo"))

	info.SetKnown(7, map[string]int{"repo": 2})
	require.True(t, info.Known())
	require.Equal(t, 7, info.Count())
	require.Equal(t, 2, info.DepCount("repo"))
	require.Zero(t, info.DepCount("other"))
}
