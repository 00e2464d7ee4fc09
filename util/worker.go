package util

import (
	"errors"
	"sync"

	"github.com/mlodash/autoflow/logger"
	"go.uber.org/zap"
)

type Task any

var ErrQueueFull = errors.New("worker queue is full")
var ErrWorkerStopped = errors.New("worker is stopped")

// Worker runs handler for submitted tasks on a fixed number of goroutines.
type Worker struct {
	name        string
	concurrency int
	stop        chan struct{}
	wg          *sync.WaitGroup
	handler     func(Task) error
	taskChan    chan Task

	mu      sync.RWMutex
	stopped bool
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Task) error, concurrency int, capacity int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		taskChan:    make(chan Task, capacity),
		name:        name,
		concurrency: concurrency,
		wg:          wg,
		stop:        make(chan struct{}),
		handler:     handler,
	}
}

func (w *Worker) Start() {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case task := <-w.taskChan:
					err := w.handler(task)
					if err != nil {
						logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Any("task", task), zap.Error(err))
					}
				case <-w.stop:
					return
				}
			}
		}()
	}
	logger.Info("worker started", zap.String("worker", w.name), zap.Int("concurrency", w.concurrency))
}

// Submit enqueues task without blocking.
func (w *Worker) Submit(task Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	select {
	case w.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stop)
	logger.Info("stopping worker", zap.String("worker", w.name))
}
