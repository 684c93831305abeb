// Package bus drives NMEA 2000 messages onto a CAN transmitter and fans
// inbound single-frame messages out to registered handlers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/dispatch"
	"github.com/kstaniek/go-n2k/internal/logging"
	"github.com/kstaniek/go-n2k/internal/metrics"
	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

const (
	DefaultMaxRetries    = 100
	DefaultRetryDelay    = 100 * time.Microsecond
	DefaultMaxRetryDelay = 10 * time.Millisecond
	DefaultMaxEvictions  = 64
	defaultPollInterval  = time.Millisecond
)

// Bus owns one Transmitter. Send calls are serialized so frames of two
// transfers never interleave.
type Bus struct {
	mu sync.Mutex // guards tx
	tx can.Transmitter

	reg     *dispatch.Registry
	address uint8
	closed  atomic.Bool

	maxRetries    uint
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	maxEvictions  int
	pollInterval  time.Duration
	segOpts       []tp.Option
	logger        *slog.Logger
}

type Option func(*Bus)

// New builds a Bus on top of tx. tx may be nil for a receive-only bus.
func New(tx can.Transmitter, opts ...Option) *Bus {
	b := &Bus{
		tx:            tx,
		address:       n2k.AddressNull,
		maxRetries:    DefaultMaxRetries,
		retryDelay:    DefaultRetryDelay,
		maxRetryDelay: DefaultMaxRetryDelay,
		maxEvictions:  DefaultMaxEvictions,
		pollInterval:  defaultPollInterval,
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.reg == nil {
		b.reg = dispatch.New()
	}
	return b
}

// WithAddress sets the source address stamped by NewMessage.
func WithAddress(a uint8) Option { return func(b *Bus) { b.address = a } }

// WithMaxRetries bounds would-block retries of a single frame.
func WithMaxRetries(n uint) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial and the maximum back-off between
// would-block retries.
func WithRetryDelay(initial, max time.Duration) Option {
	return func(b *Bus) {
		if initial > 0 {
			b.retryDelay = initial
		}
		if max >= b.retryDelay {
			b.maxRetryDelay = max
		}
	}
}

// WithMaxEvictions bounds how many evicted frames one transmit may resubmit.
func WithMaxEvictions(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.maxEvictions = n
		}
	}
}

func WithSegmentOptions(opts ...tp.Option) Option {
	return func(b *Bus) { b.segOpts = append(b.segOpts, opts...) }
}

func WithRegistry(r *dispatch.Registry) Option { return func(b *Bus) { b.reg = r } }

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPollInterval sets the idle wait of Serve when the receiver would block.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func (b *Bus) Address() uint8 { return b.address }

// NewMessage builds a message sourced from this node's address.
func (b *Bus) NewMessage(priority n2k.Priority, pgn uint32, destination uint8, data []byte) (n2k.Message, error) {
	id, err := n2k.NewID(priority, pgn, b.address, destination)
	if err != nil {
		return n2k.Message{}, err
	}
	return n2k.NewMessage(id, data)
}

// Register adds a handler for inbound messages. Send never invokes handlers.
func (b *Bus) Register(h dispatch.Handler) (unregister func()) { return b.reg.Register(h) }

// Send segments msg and hands every frame to the transmitter in order. It
// returns once all frames were accepted. A failure part way through a BAM
// transfer is returned as is; frames already accepted are not recalled.
func (b *Bus) Send(ctx context.Context, msg n2k.Message) error {
	if b.tx == nil {
		return fmt.Errorf("%w: no transmitter", ErrCouldNotSendMessage)
	}
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	framing := metrics.FramingSingle
	if msg.Len() > can.MaxDLC {
		framing = metrics.FramingBAM
	}
	sent := 0
	for f := range tp.Segment(msg, b.segOpts...) {
		err := ctx.Err()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrCouldNotSendMessage, err)
		} else {
			err = b.transmit(ctx, f)
		}
		if err != nil {
			metrics.IncError(mapErrToMetric(err))
			b.logger.Warn("send_failed", "id", msg.ID().String(), "len", msg.Len(), "frames_sent", sent, "error", err)
			return err
		}
		sent++
	}
	metrics.IncTxMessage(framing)
	if framing == metrics.FramingBAM {
		b.logger.Debug("bam_sent", "id", msg.ID().String(), "len", msg.Len(), "frames", sent)
	} else {
		b.logger.Debug("message_sent", "id", msg.ID().String(), "len", msg.Len())
	}
	return nil
}

// transmit delivers one frame, resubmitting whatever the controller evicts.
func (b *Bus) transmit(ctx context.Context, f can.Frame) error {
	pending := f
	for evictions := 0; ; evictions++ {
		evicted, err := b.submit(ctx, pending)
		if err != nil {
			return err
		}
		if evicted == nil {
			return nil
		}
		if evictions >= b.maxEvictions {
			return fmt.Errorf("%w: frame %s lost after %d evictions", ErrRetryLimit, evicted, evictions)
		}
		metrics.IncTxEviction()
		b.logger.Debug("tx_evicted_requeue", "frame", evicted.String())
		pending = *evicted
	}
}

// submit hands f to the transmitter, backing off while it would block.
func (b *Bus) submit(ctx context.Context, f can.Frame) (*can.Frame, error) {
	var evicted *can.Frame
	err := retry.Do(func() error {
		ev, err := b.tx.Transmit(f)
		if err != nil {
			if errors.Is(err, can.ErrWouldBlock) {
				metrics.IncTxWouldBlock()
			}
			return err
		}
		evicted = ev
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(b.maxRetries),
		retry.Delay(b.retryDelay),
		retry.MaxDelay(b.maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, can.ErrWouldBlock) }),
		retry.LastErrorOnly(true),
	)
	switch {
	case err == nil:
		metrics.IncTxFrame()
		return evicted, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrCouldNotSendMessage, ctx.Err())
	case errors.Is(err, can.ErrWouldBlock):
		return nil, fmt.Errorf("%w: transmitter busy after %d attempts", ErrRetryLimit, b.maxRetries)
	default:
		return nil, fmt.Errorf("%w: %w", ErrCouldNotSendMessage, err)
	}
}

// ClaimAddress broadcasts an ISO address claim (PGN 60928) for name using the
// bus address.
func (b *Bus) ClaimAddress(ctx context.Context, name n2k.Name) error {
	v, err := name.Value()
	if err != nil {
		return err
	}
	data, _ := name.Bytes()
	msg, err := b.NewMessage(n2k.Priority6, n2k.PGNISOAddressClaim, n2k.AddressGlobal, data[:])
	if err != nil {
		return err
	}
	b.logger.Info("address_claim", "address", b.address, "name", fmt.Sprintf("%016X", v))
	return b.Send(ctx, msg)
}

// SendProduct broadcasts product information (PGN 126996) through BAM.
func (b *Bus) SendProduct(ctx context.Context, p n2k.Product) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	msg, err := b.NewMessage(n2k.Priority6, n2k.PGNProductInfo, n2k.AddressGlobal, data)
	if err != nil {
		return err
	}
	return b.Send(ctx, msg)
}

// Close stops handler workers. Later sends fail with ErrClosed; the
// transmitter itself is left to its owner.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.reg.Close()
}
