package signature

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-gateway/llmgateway/internal/backoff"
)

// QueueState is the AsyncWriteQueue lifecycle (spec §4.1): STOPPED -> RUNNING
// -> (DRAINING | STOPPING) -> STOPPED.
type QueueState int32

const (
	QueueStopped QueueState = iota
	QueueRunning
	QueueDraining
	QueueStopping
)

// OverflowPolicy selects behavior when the bounded queue is full.
type OverflowPolicy string

const (
	OverflowDrop  OverflowPolicy = "drop"
	OverflowBlock OverflowPolicy = "block"
)

// AsyncQueueOptions configures the write-behind queue.
type AsyncQueueOptions struct {
	MaxQueueSize   int                  `yaml:"max_queue_size"`
	BatchSize      int                  `yaml:"batch_size"`
	BatchTimeout   time.Duration        `yaml:"batch_timeout"`
	MaxRetries     int                  `yaml:"max_retries"`
	DropOnOverflow bool                 `yaml:"drop_on_overflow"`
	Policy         backoff.BackoffPolicy `yaml:"backoff"`
}

type writeTask struct {
	cacheKey string
	entry    Entry
}

// AsyncWriteQueue batches L2 writes off the request path, grounded in
// internal/backoff's policy/retry/sleep trio for its failed-batch retry
// (spec §4.1: "Failed batch writes retry with exponential backoff up to
// max_retries").
type AsyncWriteQueue struct {
	l2      *L2
	opts    AsyncQueueOptions
	logger  *slog.Logger
	tasks   chan writeTask
	state   atomic.Int32
	wg      sync.WaitGroup
	stopCh  chan struct{}

	totalFailed atomic.Int64
	lastErrMu   sync.Mutex
	lastErr     string
}

// NewAsyncWriteQueue constructs a queue bound to l2, applying defaults
// consistent with spec §6's async_queue.* configuration surface.
func NewAsyncWriteQueue(l2 *L2, opts AsyncQueueOptions, logger *slog.Logger) *AsyncWriteQueue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 200 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Policy == (backoff.BackoffPolicy{}) {
		opts.Policy = backoff.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncWriteQueue{
		l2:     l2,
		opts:   opts,
		logger: logger,
		tasks:  make(chan writeTask, opts.MaxQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the single background worker goroutine (spec §5:
// "AsyncWriteQueue: one background worker by default").
func (q *AsyncWriteQueue) Start() {
	if !q.state.CompareAndSwap(int32(QueueStopped), int32(QueueRunning)) {
		return
	}
	q.wg.Add(1)
	go q.run()
}

// Enqueue submits a write, either dropping or blocking on overflow per
// DropOnOverflow.
func (q *AsyncWriteQueue) Enqueue(cacheKey string, entry Entry) {
	task := writeTask{cacheKey: cacheKey, entry: entry}
	if q.opts.DropOnOverflow {
		select {
		case q.tasks <- task:
		default:
			q.logger.Warn("signature: async write queue full, dropping entry", "cache_key", cacheKey)
		}
		return
	}
	select {
	case q.tasks <- task:
	case <-q.stopCh:
	}
}

// Stop drains pending writes (QueueDraining) then stops the worker.
func (q *AsyncWriteQueue) Stop(ctx context.Context) {
	if !q.state.CompareAndSwap(int32(QueueRunning), int32(QueueDraining)) {
		return
	}
	close(q.stopCh)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	q.state.Store(int32(QueueStopped))
}

// Stats returns the cumulative failure count and last error message, for the
// SignatureStore's stats surface (spec §4.1 total_failed/last_error).
func (q *AsyncWriteQueue) Stats() (totalFailed int64, lastError string) {
	q.lastErrMu.Lock()
	defer q.lastErrMu.Unlock()
	return q.totalFailed.Load(), q.lastErr
}

func (q *AsyncWriteQueue) run() {
	defer q.wg.Done()
	batch := make([]writeTask, 0, q.opts.BatchSize)
	timer := time.NewTimer(q.opts.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		q.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				flush()
				return
			}
			batch = append(batch, task)
			if len(batch) >= q.opts.BatchSize {
				flush()
				timer.Reset(q.opts.BatchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(q.opts.BatchTimeout)
		case <-q.stopCh:
			// Drain whatever remains without blocking further.
			for {
				select {
				case task := <-q.tasks:
					batch = append(batch, task)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (q *AsyncWriteQueue) writeBatch(batch []writeTask) {
	ctx := context.Background()
	for _, task := range batch {
		_, err := backoff.RetryWithBackoff(ctx, q.opts.Policy, q.opts.MaxRetries, func(int) (struct{}, error) {
			return struct{}{}, q.l2.Set(ctx, task.cacheKey, task.entry)
		})
		if err != nil {
			q.totalFailed.Add(1)
			q.lastErrMu.Lock()
			q.lastErr = err.Error()
			q.lastErrMu.Unlock()
			q.logger.Warn("signature: l2 write failed after retries", "cache_key", task.cacheKey, "error", err)
		}
	}
}
