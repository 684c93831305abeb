package serial

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/kstaniek/go-n2k/internal/can"
)

// fakePort returns queued chunks on Read and records writes.
type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	written bytes.Buffer
	readErr error
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return 0, p.readErr
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error { p.closed = true; return nil }

func TestDeviceTransmit(t *testing.T) {
	p := &fakePort{}
	d := NewDevice(p)
	fr := f(0x19F01423, 1, 2, 3)
	ev, err := d.Transmit(fr)
	if err != nil || ev != nil {
		t.Fatalf("Transmit = %v, %v", ev, err)
	}
	if !bytes.Equal(p.written.Bytes(), Codec{}.Encode(fr)) {
		t.Fatalf("unexpected wire bytes % X", p.written.Bytes())
	}
	std, _ := can.NewStandard(0x123, nil)
	if _, err := d.Transmit(std); err == nil {
		t.Fatalf("standard frames must be rejected")
	}
}

func TestDeviceReceive(t *testing.T) {
	a := f(0x18EEFF23, 1)
	b := f(0x09F80123, 2, 3)
	wire := append(rxWire(a.ID(), a.Payload()), rxWire(b.ID(), b.Payload())...)
	p := &fakePort{chunks: [][]byte{wire[:5], wire[5:]}}
	d := NewDevice(p)

	for _, want := range []can.Frame{a, b} {
		got, err := d.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got != want {
			t.Fatalf("got %s want %s", got, want)
		}
	}
	if _, err := d.Receive(); !errors.Is(err, can.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock on idle port, got %v", err)
	}
	p.readErr = errors.New("unplugged")
	if _, err := d.Receive(); err == nil || errors.Is(err, can.ErrWouldBlock) {
		t.Fatalf("expected read error, got %v", err)
	}
	_ = d.Close()
	if !p.closed {
		t.Fatalf("port not closed")
	}
}
