package util

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker(t *testing.T) {
	var wg sync.WaitGroup
	var handled int32
	done := make(chan struct{}, 10)
	w := NewWorker("test", &wg, func(task Task) error {
		atomic.AddInt32(&handled, 1)
		done <- struct{}{}
		return nil
	}, 2, 10)
	w.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Submit(i))
	}
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task not handled")
		}
	}
	require.Equal(t, int32(5), atomic.LoadInt32(&handled))

	w.Stop()
	wg.Wait()
	require.ErrorIs(t, w.Submit(6), ErrWorkerStopped)
}

func TestWorkerQueueFull(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("full", &wg, func(Task) error { return nil }, 1, 1)
	// not started, so the single slot stays occupied
	require.NoError(t, w.Submit(1))
	require.ErrorIs(t, w.Submit(2), ErrQueueFull)
}

func TestTickWorker(t *testing.T) {
	var wg sync.WaitGroup
	var ticks int32
	tw := NewTickWorker("tick", 10*time.Millisecond, func(ctx context.Context) {
		if atomic.AddInt32(&ticks, 1) == 1 {
			panic("first tick")
		}
	}, &wg)
	tw.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 3 }, time.Second, 5*time.Millisecond)
	tw.Stop()
	tw.Stop()
	wg.Wait()
}

func TestTickWorkerStopCancelsTick(t *testing.T) {
	var wg sync.WaitGroup
	started := make(chan struct{})
	var once sync.Once
	tw := NewTickWorker("blocking", 5*time.Millisecond, func(ctx context.Context) {
		once.Do(func() { close(started) })
		<-ctx.Done()
	}, &wg)
	tw.Start()
	<-started
	tw.Stop()
	wg.Wait()
}
