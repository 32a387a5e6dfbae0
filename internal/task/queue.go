package task

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// QueueBackend buffers tasks in an in-process queue and processes them
// in batches from a single worker goroutine. A batch closes when it
// reaches BatchSize tasks or BatchInterval has elapsed, whichever comes
// first; tasks within a batch run concurrently.
type QueueBackend struct {
	batchSize     int
	batchInterval time.Duration

	executor Executor
	queue    chan Task

	mu          sync.Mutex
	inFlight    int
	initialized bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Backend = (*QueueBackend)(nil)

// NewQueueBackend creates a queue backend. Zero values select the
// defaults: batches of 10 closed after at most one second.
func NewQueueBackend(batchSize int, batchInterval time.Duration) *QueueBackend {
	if batchSize < 1 {
		batchSize = 10
	}
	if batchInterval <= 0 {
		batchInterval = time.Second
	}
	return &QueueBackend{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		queue:         make(chan Task, 1024),
		done:          make(chan struct{}),
	}
}

// SetExecutor registers the callback; must be called before Initialize.
func (b *QueueBackend) SetExecutor(fn Executor) {
	b.executor = fn
}

// Initialize starts the worker goroutine.
func (b *QueueBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.worker(workerCtx)
	b.initialized = true
	log.Printf("task: queue backend initialized (batch_size=%d batch_interval=%s)",
		b.batchSize, b.batchInterval)
	return nil
}

// Submit enqueues the task.
func (b *QueueBackend) Submit(ctx context.Context, t Task) error {
	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()
	if !initialized {
		if err := b.Initialize(ctx); err != nil {
			return err
		}
	}

	select {
	case b.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker. Queued but unstarted tasks are dropped;
// their ledger rows stay pending and can be retried or cancelled.
func (b *QueueBackend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.initialized = false
	b.mu.Unlock()

	b.cancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForPending blocks until the queue is empty and no task is in
// flight, or the timeout elapses. Intended for tests and draining before
// shutdown.
func (b *QueueBackend) WaitForPending(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		inFlight := b.inFlight
		b.mu.Unlock()
		if len(b.queue) == 0 && inFlight == 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("task: pending tasks did not drain within %s", timeout)
}

// worker collects batches and dispatches them.
func (b *QueueBackend) worker(ctx context.Context) {
	defer close(b.done)

	for {
		batch, ok := b.collect(ctx)
		if !ok {
			return
		}
		if len(batch) == 0 {
			continue
		}

		b.logBatch(batch)

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range batch {
			g.Go(func() error {
				execute(gctx, b.executor, t)
				return nil
			})
		}
		_ = g.Wait()

		b.mu.Lock()
		b.inFlight -= len(batch)
		b.mu.Unlock()
	}
}

// collect gathers up to batchSize tasks or until batchInterval elapses.
// Tasks are marked in-flight as they are picked up so WaitForPending
// cannot return between dequeue and dispatch.
func (b *QueueBackend) collect(ctx context.Context) ([]Task, bool) {
	var batch []Task
	timer := time.NewTimer(b.batchInterval)
	defer timer.Stop()

	for len(batch) < b.batchSize {
		select {
		case t := <-b.queue:
			b.mu.Lock()
			b.inFlight++
			b.mu.Unlock()
			batch = append(batch, t)
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			// Return collected tasks to in-flight zero; they are dropped.
			b.mu.Lock()
			b.inFlight -= len(batch)
			b.mu.Unlock()
			return nil, false
		}
	}
	return batch, true
}

// logBatch summarizes the batch by task type and bank.
func (b *QueueBackend) logBatch(batch []Task) {
	summary := make(map[string]map[string]int)
	for _, t := range batch {
		if summary[t.Type] == nil {
			summary[t.Type] = make(map[string]int)
		}
		summary[t.Type][t.BankID]++
	}

	var parts []string
	taskTypes := make([]string, 0, len(summary))
	for tt := range summary {
		taskTypes = append(taskTypes, tt)
	}
	sort.Strings(taskTypes)
	for _, tt := range taskTypes {
		banks := summary[tt]
		names := make([]string, 0, len(banks))
		for bk := range banks {
			names = append(names, bk)
		}
		sort.Strings(names)
		pairs := make([]string, 0, len(names))
		for _, bk := range names {
			pairs = append(pairs, fmt.Sprintf("%s:%d", bk, banks[bk]))
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", tt, strings.Join(pairs, ", ")))
	}

	if pending := len(b.queue); pending > 0 {
		log.Printf("task: processing %d tasks: %s (pending=%d)", len(batch), strings.Join(parts, ", "), pending)
	} else {
		log.Printf("task: processing %d tasks: %s", len(batch), strings.Join(parts, ", "))
	}
}
