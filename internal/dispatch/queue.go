package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("dispatch: queue closed")

// Queue funnels items through a single goroutine (fan-in). Enqueue never
// blocks: if the buffer is full it invokes the OnDrop hook and returns its
// error. This keeps a slow consumer from stalling the producer.
//
// Life-cycle:
//
//	q := NewQueue(ctx, buf, fn, hooks)
//	q.Enqueue(item)
//	q.Close()
type Queue[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fn     func(T) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize Queue behavior.
type Hooks struct {
	// OnError is called when fn returns a non-nil error.
	OnError func(error)
	// OnAfter is called only after fn succeeded.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from Enqueue. If nil, the overflow is silent.
	OnDrop func() error
}

// NewQueue constructs a Queue with a buffered channel of size buf and starts
// its worker.
func NewQueue[T any](parent context.Context, buf int, fn func(T) error, hooks Hooks) *Queue[T] {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		fn:     fn,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue[T]) loop() {
	defer q.wg.Done()
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			if err := q.fn(it); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(err)
				}
				continue
			}
			if q.hooks.OnAfter != nil {
				q.hooks.OnAfter()
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// Enqueue queues an item or returns the drop error if the buffer is full.
func (q *Queue[T]) Enqueue(it T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- it:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			return q.hooks.OnDrop()
		}
		return nil
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Close stops the worker and waits for it to exit. Queued items not yet
// picked up are discarded.
func (q *Queue[T]) Close() {
	q.stop()
	q.wg.Wait()
}

// stop signals the worker without waiting for an in-flight item.
func (q *Queue[T]) stop() {
	if q.closed.Swap(true) {
		return
	}
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
}
