package util

import (
	"context"
	"sync"
	"time"

	"github.com/mlodash/autoflow/logger"
	"go.uber.org/zap"
)

// TickWorker calls fn every interval on a single goroutine. The context
// passed to fn is cancelled by Stop, so a tick in progress can abort early.
type TickWorker struct {
	name         string
	tickInterval time.Duration
	fn           func(ctx context.Context)
	wg           *sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewTickWorker(name string, interval time.Duration, fn func(ctx context.Context), wg *sync.WaitGroup) *TickWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &TickWorker{
		name:         name,
		tickInterval: interval,
		fn:           fn,
		wg:           wg,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.tick()
			case <-tw.ctx.Done():
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

func (tw *TickWorker) tick() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tick worker panicked", zap.String("worker", tw.name), zap.Any("panic", r))
		}
	}()
	tw.fn(tw.ctx)
}

// Stop is idempotent.
func (tw *TickWorker) Stop() {
	tw.cancel()
}
