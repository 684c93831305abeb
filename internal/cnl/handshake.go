package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-n2k/internal/metrics"
)

const hello = "CANNELLONIv1"

// ErrBadHello is returned when the peer greets with something else.
var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake exchanges greetings in both directions at once, so it works
// regardless of which side speaks first.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()
	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != hello {
			err = fmt.Errorf("%w: %q", ErrBadHello, buf)
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			metrics.IncError(metrics.ErrHandshake)
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				metrics.IncError(metrics.ErrHandshake)
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
