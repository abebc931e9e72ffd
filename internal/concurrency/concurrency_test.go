package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(context.Background(), 2)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		p.Go(func(ctx context.Context) error {
			done.Add(1)
			return nil
		})
	}

	require.NoError(t, p.Wait())
	require.Equal(t, int32(10), done.Load())
}

func TestPoolReturnsFirstError(t *testing.T) {
	p := NewPool(context.Background(), 1)

	boom := errors.New("boom")
	p.Go(func(ctx context.Context) error { return boom })
	p.Go(func(ctx context.Context) error { return errors.New("later") })

	require.ErrorIs(t, p.Wait(), boom)
}

func TestPoolCancelsOnError(t *testing.T) {
	p := NewPool(context.Background(), 2)

	boom := errors.New("boom")
	started := make(chan struct{})
	p.Go(func(ctx context.Context) error {
		<-started
		return boom
	})
	p.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	require.ErrorIs(t, p.Wait(), boom)
}
