package task

import "context"

// InlineBackend executes tasks synchronously on the submitting
// goroutine. Used for embedded and CLI deployments where background
// workers would prevent clean exit, and in tests for determinism.
type InlineBackend struct {
	executor Executor
}

var _ Backend = (*InlineBackend)(nil)

// NewInlineBackend creates the synchronous backend.
func NewInlineBackend() *InlineBackend {
	return &InlineBackend{}
}

// SetExecutor registers the callback.
func (b *InlineBackend) SetExecutor(fn Executor) {
	b.executor = fn
}

// Initialize is a no-op.
func (b *InlineBackend) Initialize(ctx context.Context) error {
	return nil
}

// Submit executes the task before returning.
func (b *InlineBackend) Submit(ctx context.Context, t Task) error {
	execute(ctx, b.executor, t)
	return nil
}

// Shutdown is a no-op.
func (b *InlineBackend) Shutdown(ctx context.Context) error {
	return nil
}
