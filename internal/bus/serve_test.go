package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/dispatch"
	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

// fakeRx serves queued frames, then would-block or err once drained.
type fakeRx struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
}

func (r *fakeRx) Receive() (can.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		if r.err != nil {
			return can.Frame{}, r.err
		}
		return can.Frame{}, can.ErrWouldBlock
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

type collector struct {
	mu   sync.Mutex
	msgs []n2k.Message
}

func (c *collector) Handle(m n2k.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) len() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.msgs) }

func TestServeDispatchesSingleFrames(t *testing.T) {
	single := testMsg(t, n2k.Priority2, 6)
	bam := tp.Frames(testMsg(t, n2k.Priority6, 20))
	std, err := can.NewStandard(0x123, []byte{1})
	require.NoError(t, err)

	rx := &fakeRx{frames: append([]can.Frame{tp.Frames(single)[0], std}, bam...)}
	b := New(nil, WithPollInterval(time.Millisecond))
	defer b.Close()
	c := &collector{}
	b.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, rx) }()

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.msgs, 1, "transport and standard frames are not dispatched")
	assert.Equal(t, single.ID(), c.msgs[0].ID())
	assert.Equal(t, single.Data(), c.msgs[0].Data())
}

func TestServeReturnsReceiveError(t *testing.T) {
	broken := errors.New("device gone")
	b := New(nil)
	defer b.Close()
	err := b.Serve(context.Background(), &fakeRx{err: broken})
	require.ErrorIs(t, err, broken)
}

func TestServeFansOutToAllHandlers(t *testing.T) {
	reg := dispatch.New()
	b := New(nil, WithRegistry(reg))
	defer b.Close()
	a, c := &collector{}, &collector{}
	b.Register(a)
	unregister := b.Register(c)

	msgs := []n2k.Message{testMsg(t, n2k.Priority1, 1), testMsg(t, n2k.Priority1, 2)}
	for _, m := range msgs {
		b.handleFrame(tp.Frames(m)[0])
	}
	require.Eventually(t, func() bool { return a.len() == 2 && c.len() == 2 }, time.Second, 5*time.Millisecond)

	unregister()
	b.handleFrame(tp.Frames(msgs[0])[0])
	require.Eventually(t, func() bool { return a.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, c.len())
}
