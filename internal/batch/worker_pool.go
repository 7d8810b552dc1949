package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/phrazzld/scry-batch/internal/domain"
)

// ProcessFunc handles one item on a worker goroutine.
type ProcessFunc func(ctx context.Context, workerID int, item domain.Item)

// WorkerPool runs a fixed number of workers over a WorkQueue.
type WorkerPool struct {
	// queue provides the items to be processed
	queue *WorkQueue

	// workerCount is the number of concurrent workers to start
	workerCount int

	// logger for structured logging
	logger *slog.Logger

	// onDrain is called once, when the first worker stops taking items.
	// From then on no new item is dispatched.
	onDrain   func()
	drainOnce sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue *WorkQueue, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	return &WorkerPool{
		queue:       queue,
		workerCount: workerCount,
		logger:      logger,
	}
}

// SetDrainHandler sets the function called when dispatch stops.
func (p *WorkerPool) SetDrainHandler(fn func()) {
	p.onDrain = fn
}

// Run starts the workers and blocks until all of them have stopped. Workers
// stop when the queue is closed and empty, or when ctx is cancelled; an item
// already being processed is always finished.
func (p *WorkerPool) Run(ctx context.Context, process ProcessFunc) {
	var wg sync.WaitGroup

	p.logger.Debug("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id, process)
		}(i)
	}

	wg.Wait()
	p.logger.Debug("worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int, process ProcessFunc) {
	defer p.drained()

	for {
		// Cancellation wins over a ready item.
		if ctx.Err() != nil {
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case item, ok := <-p.queue.Items():
			if !ok {
				p.logger.Debug("work queue drained, stopping worker", "worker_id", id)
				return
			}
			process(ctx, id, item)
		}
	}
}

func (p *WorkerPool) drained() {
	p.drainOnce.Do(func() {
		if p.onDrain != nil {
			p.onDrain()
		}
	})
}
