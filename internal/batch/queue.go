package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/scry-batch/internal/domain"
)

// Common errors returned by the WorkQueue
var (
	ErrQueueClosed = errors.New("work queue is closed")
	ErrQueueFull   = errors.New("work queue is full")
)

// WorkQueue is a buffered queue of items waiting for a worker.
type WorkQueue struct {
	items  chan domain.Item
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWorkQueue creates a new work queue with the specified buffer size
func NewWorkQueue(size int, logger *slog.Logger) *WorkQueue {
	return &WorkQueue{
		items:  make(chan domain.Item, size),
		logger: logger,
	}
}

// Enqueue adds an item to the queue without blocking.
// Returns an error if the queue is full or closed
func (q *WorkQueue) Enqueue(item domain.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- item:
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.items))
	}
}

// Close closes the queue. Workers drain the remaining items and then stop.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.items)
		q.logger.Debug("work queue closed", "queued", len(q.items))
	}
}

// Len returns the number of items waiting for a worker.
func (q *WorkQueue) Len() int {
	return len(q.items)
}

// Items returns a read-only channel for consuming items
func (q *WorkQueue) Items() <-chan domain.Item {
	return q.items
}
