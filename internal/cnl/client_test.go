package cnl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-n2k/internal/can"
)

// gateway runs the far side of a pipe: handshake, then echoes frames back.
func gateway(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		if err := Handshake(context.Background(), conn, 2*time.Second); err != nil {
			return
		}
		c := Codec{}
		for {
			f, err := c.Decode(conn)
			if err != nil {
				_ = conn.Close()
				return
			}
			if _, err := conn.Write(c.Encode([]can.Frame{f})); err != nil {
				return
			}
		}
	}()
}

func TestClientEcho(t *testing.T) {
	srv, cli := net.Pipe()
	gateway(t, srv)

	c, err := Connect(context.Background(), cli, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	frames := []can.Frame{mkFrame(0x18EEFF23, 8), mkFrame(0x09F80123, 2)}
	got := make(chan can.Frame, len(frames))
	go func() {
		for range frames {
			f, err := c.Receive()
			if err != nil {
				return
			}
			got <- f
		}
	}()
	for _, f := range frames {
		ev, err := c.Transmit(f)
		if err != nil || ev != nil {
			t.Fatalf("Transmit = %v, %v", ev, err)
		}
	}
	for i, want := range frames {
		select {
		case f := <-got:
			if f != want {
				t.Fatalf("frame %d: got %s want %s", i, f, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestClientReceiveAfterPeerClose(t *testing.T) {
	srv, cli := net.Pipe()
	go func() {
		_ = Handshake(context.Background(), srv, 2*time.Second)
		_ = srv.Close()
	}()
	c, err := Connect(context.Background(), cli, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	if _, err := c.Receive(); !errors.Is(err, can.ErrClosed) {
		t.Fatalf("expected can.ErrClosed, got %v", err)
	}
}

func TestEntryAddr(t *testing.T) {
	if got := entryAddr(nil); got != "" {
		t.Fatalf("nil entry: %q", got)
	}
	e := zeroconf.NewServiceEntry("gw", ServiceType, "local.")
	if got := entryAddr(e); got != "" {
		t.Fatalf("entry without port: %q", got)
	}
	e.Port = 20000
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	if got := entryAddr(e); got != "[fe80::1]:20000" {
		t.Fatalf("ipv6 entry: %q", got)
	}
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.10")}
	if got := entryAddr(e); got != "192.168.1.10:20000" {
		t.Fatalf("ipv4 entry: %q", got)
	}
}
