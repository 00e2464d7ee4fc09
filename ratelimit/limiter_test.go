package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/go-redis/redis/v9"
	"github.com/mlodash/autoflow/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type failingCounter struct {
	calls int
}

func (f *failingCounter) Increment(context.Context, string, time.Duration) (int64, error) {
	f.calls++
	return 0, errors.New("connection refused")
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(prev) })
	return logs
}

func TestLimiter(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, newCounter func(t *testing.T) Counter){
		"denies requests beyond quota":      testQuota,
		"admits again after window rollover": testRollover,
		"keys are independent":               testIndependentKeys,
	} {
		t.Run(scenario+" local", func(t *testing.T) {
			fn(t, func(t *testing.T) Counter { return nil })
		})
		t.Run(scenario+" redis", func(t *testing.T) {
			fn(t, func(t *testing.T) Counter {
				mr := miniredis.RunT(t)
				client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
				t.Cleanup(func() { client.Close() })
				return NewRedisCounter(client, "test")
			})
		})
	}
}

func newTestLimiter(t *testing.T, shared Counter, clock *fakeClock) *Limiter {
	l := NewLimiter(Config{Limit: 120, Window: time.Minute}, shared)
	l.Now = clock.Now
	return l
}

func testQuota(t *testing.T, newCounter func(t *testing.T) Counter) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 5, 0, time.UTC)}
	l := newTestLimiter(t, newCounter(t), clock)
	ctx := context.Background()
	for i := 1; i <= 120; i++ {
		d := l.Allow(ctx, "10.0.0.1")
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 120-i, d.Remaining)
	}
	d := l.Allow(ctx, "10.0.0.1")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, 120, d.Limit)
	require.Equal(t, 55*time.Second, d.RetryAfter)
	require.Equal(t, time.Date(2026, 1, 5, 10, 1, 0, 0, time.UTC), d.ResetAt)
}

func testRollover(t *testing.T, newCounter func(t *testing.T) Counter) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 30, 0, time.UTC)}
	l := newTestLimiter(t, newCounter(t), clock)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		require.True(t, l.Allow(ctx, "src").Allowed)
	}
	require.False(t, l.Allow(ctx, "src").Allowed)

	clock.now = clock.now.Add(31 * time.Second)
	require.True(t, l.Allow(ctx, "src").Allowed)
}

func testIndependentKeys(t *testing.T, newCounter func(t *testing.T) Counter) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{Limit: 1, Window: time.Minute}, newCounter(t))
	l.Now = clock.Now
	ctx := context.Background()
	require.True(t, l.Allow(ctx, "a").Allowed)
	require.False(t, l.Allow(ctx, "a").Allowed)
	require.True(t, l.Allow(ctx, "b").Allowed)
}

func TestLimiterFallbackLogsOnce(t *testing.T) {
	logs := observeLogs(t)
	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	shared := &failingCounter{}
	l := NewLimiter(Config{Limit: 3, Window: time.Minute, RecheckInterval: 10 * time.Second}, shared)
	l.Now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "k").Allowed)
	}
	require.False(t, l.Allow(ctx, "k").Allowed)
	require.True(t, l.Degraded())
	require.Equal(t, 1, shared.calls, "shared store is not retried before the recheck interval")
	require.Equal(t, 1, logs.FilterMessage("shared rate limit store unavailable, falling back to local counter").Len())

	clock.now = clock.now.Add(11 * time.Second)
	require.False(t, l.Allow(ctx, "k").Allowed)
	require.Equal(t, 2, shared.calls)
	require.Equal(t, 1, logs.FilterMessage("shared rate limit store unavailable, falling back to local counter").Len())
}

func TestLimiterRecoversSharedStore(t *testing.T) {
	logs := observeLogs(t)
	mr := miniredis.RunT(t)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{Limit: 10, Window: time.Minute, RecheckInterval: time.Second}, NewRedisCounter(client, "test"))
	l.Now = clock.Now
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "k").Allowed)
	require.False(t, l.Degraded())

	mr.Close()
	require.True(t, l.Allow(ctx, "k").Allowed)
	require.True(t, l.Degraded())

	require.NoError(t, mr.Restart())
	clock.now = clock.now.Add(2 * time.Second)
	require.True(t, l.Allow(ctx, "k").Allowed)
	require.False(t, l.Degraded())
	require.Equal(t, 1, logs.FilterMessage("shared rate limit store restored").Len())
}
