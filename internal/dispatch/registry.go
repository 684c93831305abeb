// Package dispatch holds the handler registry that inbound messages are fanned
// out to. Each handler runs on its own queue so a slow handler cannot stall the
// receive loop or the other handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/go-n2k/internal/logging"
	"github.com/kstaniek/go-n2k/internal/metrics"
	"github.com/kstaniek/go-n2k/internal/n2k"
)

// Handler consumes inbound messages.
type Handler interface {
	Handle(n2k.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(n2k.Message)

func (f HandlerFunc) Handle(m n2k.Message) { f(m) }

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

const defaultBufSize = 64

var errQueueFull = errors.New("dispatch: handler queue full")

type subscription struct {
	h Handler
	q *Queue[n2k.Message]
}

// Registry fans messages out to registered handlers honoring the backpressure
// policy.
type Registry struct {
	mu         sync.RWMutex
	subs       map[*subscription]struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Registry with default settings.
func New() *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{subs: make(map[*subscription]struct{}), ctx: ctx, cancel: cancel}
}

// Register adds a handler and returns a function that removes it.
func (r *Registry) Register(h Handler) (unregister func()) {
	buf := r.OutBufSize
	if buf <= 0 {
		buf = defaultBufSize
	}
	s := &subscription{h: h}
	s.q = NewQueue(r.ctx, buf, func(m n2k.Message) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panic: %v", p)
			}
		}()
		h.Handle(m)
		return nil
	}, Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrHandlerPanic)
			logging.L().Error("handler_error", "error", err)
		},
		OnDrop: func() error { return errQueueFull },
	})
	r.mu.Lock()
	prev := len(r.subs)
	r.subs[s] = struct{}{}
	cur := len(r.subs)
	r.mu.Unlock()
	metrics.SetHandlers(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("handlers_first_registered")
	}
	return func() { r.remove(s) }
}

// remove unregisters a subscription; safe to call multiple times. It does not
// wait for the handler, so it may be called from Dispatch.
func (r *Registry) remove(s *subscription) {
	r.mu.Lock()
	_, existed := r.subs[s]
	delete(r.subs, s)
	cur := len(r.subs)
	r.mu.Unlock()
	s.q.stop()
	metrics.SetHandlers(cur)
	if existed && cur == 0 {
		logging.L().Info("handlers_last_unregistered")
	}
}

// Dispatch hands m to every handler. It never blocks on a handler.
func (r *Registry) Dispatch(m n2k.Message) {
	for _, s := range r.snapshot() {
		err := s.q.Enqueue(m)
		if !errors.Is(err, errQueueFull) {
			continue
		}
		if r.Policy == PolicyKick {
			metrics.IncHandlerKick()
			logging.L().Warn("handler_kicked", "pending", s.q.Len())
			r.remove(s)
		} else {
			metrics.IncHandlerDrop()
		}
	}
}

func (r *Registry) snapshot() []*subscription {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	return subs
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int { r.mu.RLock(); n := len(r.subs); r.mu.RUnlock(); return n }

// Close unregisters every handler and waits for in-flight Handle calls to
// return.
func (r *Registry) Close() {
	subs := r.snapshot()
	for _, s := range subs {
		r.remove(s)
	}
	for _, s := range subs {
		s.q.Close()
	}
	r.cancel()
}
