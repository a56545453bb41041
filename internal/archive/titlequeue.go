package archive

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// enqueueTimeout bounds how long a producer blocks before dropping a task.
const enqueueTimeout = 100 * time.Millisecond

// TitleQueue decouples best-effort metadata title corrections from the
// archive path. Producers enqueue with a short timeout and drop on
// saturation; a single consumer drains the channel sequentially and applies
// each correction against the remote store. Nothing in here can fail or
// block an archive operation.
type TitleQueue struct {
	ch     chan TitleTask
	done   chan struct{}
	store  RemoteStore
	logger *zap.Logger
}

// NewTitleQueue builds a queue with the given capacity.
func NewTitleQueue(capacity int, store RemoteStore, logger *zap.Logger) *TitleQueue {
	return &TitleQueue{
		ch:     make(chan TitleTask, capacity),
		done:   make(chan struct{}),
		store:  store,
		logger: logger,
	}
}

// Start launches the consumer goroutine. The consumer exits when the queue
// is closed and drained, or when the context ends.
func (q *TitleQueue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for task := range q.ch {
			if ctx.Err() != nil {
				return
			}
			if q.store.UpdateFileMetadata(ctx, task.Bucket, task.Key, task.Title) {
				MetadataTasksApplied.Inc()
			} else {
				// Soft failure; the catch-up scan is the retry path.
				q.logger.Debug("title correction not applied",
					zap.String("bucket", task.Bucket), zap.String("key", task.Key))
			}
		}
	}()
}

// Enqueue offers a task, reporting false when the queue stayed full past the
// enqueue timeout. The caller logs and forgets; the task is gone.
func (q *TitleQueue) Enqueue(task TitleTask) bool {
	select {
	case q.ch <- task:
		return true
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case q.ch <- task:
		return true
	case <-timer.C:
		return false
	}
}

// Close ends intake and waits up to wait for the consumer to drain. The
// queue never holds up a run: when the deadline passes the remaining tasks
// are abandoned.
func (q *TitleQueue) Close(wait time.Duration) {
	close(q.ch)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-q.done:
	case <-timer.C:
		q.logger.Warn("metadata queue drain timed out, abandoning remaining tasks")
	}
}
