// Package vcan is an in-memory CAN controller. It models a small set of
// transmit mailboxes with priority eviction and a receive FIFO behind
// acceptance filters, which is enough to run the bus layer without hardware.
package vcan

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kstaniek/go-n2k/internal/can"
)

const (
	DefaultMailboxes = 3
	DefaultRxDepth   = 64
)

var ErrNoFilterSlots = errors.New("vcan: no free filter slots")

// Controller implements can.Device and can.FilteredReceiver.
type Controller struct {
	mu        sync.Mutex
	mailboxes int
	rxDepth   int
	loopback  bool
	fifo      bool
	groups    []can.FilterGroup

	pending   []can.Frame
	rx        []can.Frame
	filters   []can.Filter
	acceptAll bool
	closed    bool

	transmitted uint64
	evicted     uint64
	overruns    uint64
}

type Option func(*Controller)

// WithMailboxes sets the number of transmit mailboxes.
func WithMailboxes(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.mailboxes = n
		}
	}
}

// WithRxDepth sets the receive FIFO depth.
func WithRxDepth(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.rxDepth = n
		}
	}
}

// WithLoopback makes frames leaving the mailboxes arrive at the receive side.
func WithLoopback() Option { return func(c *Controller) { c.loopback = true } }

// WithFIFOOrder transmits mailboxes in request order and disables eviction,
// so a multi-frame transfer leaves the controller in the order it was queued.
func WithFIFOOrder() Option { return func(c *Controller) { c.fifo = true } }

func WithFilterGroups(groups ...can.FilterGroup) Option {
	return func(c *Controller) { c.groups = append([]can.FilterGroup(nil), groups...) }
}

func New(opts ...Option) *Controller {
	c := &Controller{
		mailboxes: DefaultMailboxes,
		rxDepth:   DefaultRxDepth,
		groups: []can.FilterGroup{
			{NumFilters: 14, Extended: true, Mask: can.MaskIndividual, RTR: can.RTRConfigurable},
		},
		acceptAll: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Transmit places f in a free mailbox. When all mailboxes are taken and f
// wins arbitration against the weakest pending frame, that frame is replaced
// and returned.
func (c *Controller) Transmit(f can.Frame) (*can.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, can.ErrClosed
	}
	if len(c.pending) < c.mailboxes {
		c.pending = append(c.pending, f)
		return nil, nil
	}
	if c.fifo {
		return nil, can.ErrWouldBlock
	}
	worst := 0
	for i := range c.pending {
		if arbitrationKey(c.pending[i]) > arbitrationKey(c.pending[worst]) {
			worst = i
		}
	}
	if arbitrationKey(f) >= arbitrationKey(c.pending[worst]) {
		return nil, can.ErrWouldBlock
	}
	ev := c.pending[worst]
	c.pending[worst] = f
	c.evicted++
	return &ev, nil
}

// Pop removes the pending frame that would go on the wire next: the one
// winning arbitration, or the oldest in FIFO order.
func (c *Controller) Pop() (can.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Controller) popLocked() (can.Frame, bool) {
	if len(c.pending) == 0 {
		return can.Frame{}, false
	}
	best := 0
	if !c.fifo {
		for i := range c.pending {
			if arbitrationKey(c.pending[i]) < arbitrationKey(c.pending[best]) {
				best = i
			}
		}
	}
	f := c.pending[best]
	c.pending = append(c.pending[:best], c.pending[best+1:]...)
	c.transmitted++
	if c.loopback {
		c.injectLocked(f)
	}
	return f, true
}

// Drain empties the mailboxes in transmit order.
func (c *Controller) Drain() []can.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]can.Frame, 0, len(c.pending))
	for {
		f, ok := c.popLocked()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

// Pending returns the frames waiting in the mailboxes in transmit order.
func (c *Controller) Pending() []can.Frame {
	c.mu.Lock()
	out := append([]can.Frame(nil), c.pending...)
	fifo := c.fifo
	c.mu.Unlock()
	if !fifo {
		sort.SliceStable(out, func(i, j int) bool { return arbitrationKey(out[i]) < arbitrationKey(out[j]) })
	}
	return out
}

// Inject delivers f to the receive side as if it arrived from the bus. Frames
// rejected by the acceptance filters are discarded silently.
func (c *Controller) Inject(f can.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.ErrClosed
	}
	if !c.injectLocked(f) {
		return can.ErrWouldBlock
	}
	return nil
}

// injectLocked reports false on FIFO overrun.
func (c *Controller) injectLocked(f can.Frame) bool {
	if !c.accepts(f) {
		return true
	}
	if len(c.rx) >= c.rxDepth {
		c.overruns++
		return false
	}
	c.rx = append(c.rx, f)
	return true
}

func (c *Controller) accepts(f can.Frame) bool {
	if c.acceptAll {
		return true
	}
	if len(c.filters) == 0 {
		return false
	}
	return can.MatchAny(c.filters, f)
}

// Receive pops the oldest received frame or returns can.ErrWouldBlock.
func (c *Controller) Receive() (can.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.Frame{}, can.ErrClosed
	}
	if len(c.rx) == 0 {
		return can.Frame{}, can.ErrWouldBlock
	}
	f := c.rx[0]
	c.rx = c.rx[1:]
	return f, nil
}

func (c *Controller) FilterGroups() []can.FilterGroup {
	return append([]can.FilterGroup(nil), c.groups...)
}

func (c *Controller) capacity(extended bool) int {
	n := 0
	for _, g := range c.groups {
		if !extended || g.Extended {
			n += g.NumFilters
		}
	}
	return n
}

func (c *Controller) AddFilter(f can.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.ErrClosed
	}
	if len(c.filters) >= c.capacity(f.Extended) {
		return fmt.Errorf("%w: %d in use", ErrNoFilterSlots, len(c.filters))
	}
	c.filters = append(c.filters, f)
	c.acceptAll = false
	return nil
}

// ClearFilters removes all filters; nothing is received until one is added.
func (c *Controller) ClearFilters() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = nil
	c.acceptAll = false
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.rx = nil
	c.mu.Unlock()
	return nil
}

// Stats are lifetime counters of the controller.
type Stats struct {
	Transmitted uint64
	Evicted     uint64
	Overruns    uint64
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Transmitted: c.transmitted, Evicted: c.evicted, Overruns: c.overruns}
}

// arbitrationKey orders frames the way bus arbitration does: a lower key wins.
// Standard frames carry RTR before IDE; extended frames carry SRR and IDE as
// recessive bits after the base identifier.
func arbitrationKey(f can.Frame) uint64 {
	var rtr uint64
	if f.IsRemote() {
		rtr = 1
	}
	if !f.IsExtended() {
		return uint64(f.ID())<<21 | rtr<<20
	}
	id := uint64(f.ID())
	base, ext := id>>18, id&0x3FFFF
	return base<<21 | 1<<20 | 1<<19 | ext<<1 | rtr
}
