package cnl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/logging"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// Client is a connection to a cannelloni gateway. It implements can.Device.
// The gateway's TCP socket buffers frames, so Transmit never evicts.
type Client struct {
	conn  net.Conn
	codec Codec
	br    *bufio.Reader

	wmu sync.Mutex
	buf []byte
}

// Dial connects to addr and performs the handshake.
func Dial(ctx context.Context, addr string, handshakeTimeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.IncError(metrics.ErrCannelloni)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c, err := Connect(ctx, conn, handshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logging.L().Info("cannelloni_connected", "remote", addr)
	return c, nil
}

// Connect performs the handshake on an established connection.
func Connect(ctx context.Context, conn net.Conn, handshakeTimeout time.Duration) (*Client, error) {
	if err := Handshake(ctx, conn, handshakeTimeout); err != nil {
		return nil, err
	}
	return &Client{conn: conn, br: bufio.NewReader(conn), buf: make([]byte, 0, 4+1+can.MaxDLC)}, nil
}

func (c *Client) Transmit(f can.Frame) (*can.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	w := bytesWriter{b: c.buf[:0]}
	_, _ = c.codec.EncodeTo(&w, []can.Frame{f})
	c.buf = w.b
	if _, err := c.conn.Write(w.b); err != nil {
		metrics.IncError(metrics.ErrCannelloni)
		return nil, fmt.Errorf("cannelloni write: %w", err)
	}
	return nil, nil
}

// Receive blocks until the gateway sends a frame. A closed connection is
// reported as can.ErrClosed.
func (c *Client) Receive() (can.Frame, error) {
	f, err := c.codec.Decode(c.br)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return can.Frame{}, fmt.Errorf("%w: %v", can.ErrClosed, err)
		}
		metrics.IncError(metrics.ErrCannelloni)
		return can.Frame{}, err
	}
	return f, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

type bytesWriter struct{ b []byte }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
