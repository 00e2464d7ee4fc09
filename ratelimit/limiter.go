package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mlodash/autoflow/logger"
	"go.uber.org/zap"
)

const DEFAULT_LIMIT = 120
const DEFAULT_WINDOW = 60 * time.Second
const DEFAULT_RECHECK_INTERVAL = 10 * time.Second

type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Config struct {
	Limit         int
	Window        time.Duration
	RecheckInterval time.Duration
}

// Limiter is a fixed-window admission limiter. Counts live in the shared
// counter when one is configured and reachable, otherwise in process memory.
type Limiter struct {
	limit         int
	window        time.Duration
	recheckInterval time.Duration
	shared        Counter
	local         Counter
	Now           func() time.Time

	mu        sync.Mutex
	degraded  bool
	lastRecheck time.Time
}

func NewLimiter(conf Config, shared Counter) *Limiter {
	if conf.Limit <= 0 {
		conf.Limit = DEFAULT_LIMIT
	}
	if conf.Window <= 0 {
		conf.Window = DEFAULT_WINDOW
	}
	if conf.RecheckInterval <= 0 {
		conf.RecheckInterval = DEFAULT_RECHECK_INTERVAL
	}
	return &Limiter{
		limit:         conf.Limit,
		window:        conf.Window,
		recheckInterval: conf.RecheckInterval,
		shared:        shared,
		local:         NewLocalCounter(conf.Window),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	now := l.Now()
	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	bucket := key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	count := l.increment(ctx, bucket, now)
	decision := Decision{
		Allowed: count <= int64(l.limit),
		Key:     key,
		Limit:   l.limit,
		ResetAt: resetAt,
	}
	if remaining := int64(l.limit) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAt.Sub(now)
	}
	return decision
}

// Degraded reports whether the limiter is currently counting locally because
// the shared counter failed.
func (l *Limiter) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *Limiter) increment(ctx context.Context, bucket string, now time.Time) int64 {
	ttl := l.window + time.Second
	if l.shared != nil && l.useShared(now) {
		n, err := l.shared.Increment(ctx, bucket, ttl)
		if err == nil {
			l.markHealthy()
			return n
		}
		l.markDegraded(err, now)
	}
	n, err := l.local.Increment(ctx, bucket, ttl)
	if err != nil {
		// local counter only fails if the bucket vanished between add and
		// increment; count the request as the first of its window.
		logger.Debug("local rate counter reset", zap.String("bucket", bucket), zap.Error(err))
		return 1
	}
	return n
}

func (l *Limiter) useShared(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return true
	}
	if now.Sub(l.lastRecheck) >= l.recheckInterval {
		l.lastRecheck = now
		return true
	}
	return false
}

func (l *Limiter) markDegraded(err error, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRecheck = now
	if l.degraded {
		return
	}
	l.degraded = true
	logger.Warn("shared rate limit store unavailable, falling back to local counter", zap.Error(err))
}

func (l *Limiter) markHealthy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return
	}
	l.degraded = false
	logger.Info("shared rate limit store restored")
}
