package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// Device adapts a UART CAN adapter to can.Device. Writes are synchronous;
// the adapter has no mailboxes to evict from.
type Device struct {
	port  Port
	codec Codec

	wmu sync.Mutex

	rmu   sync.Mutex
	rxBuf bytes.Buffer
	ready []can.Frame
	chunk []byte
}

// Open opens the serial device and wraps it.
func Open(name string, baud int, readTimeout time.Duration) (*Device, error) {
	p, err := OpenPort(name, baud, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return NewDevice(p), nil
}

func NewDevice(p Port) *Device {
	return &Device{port: p, chunk: make([]byte, 256)}
}

func (d *Device) Transmit(f can.Frame) (*can.Frame, error) {
	if !f.IsExtended() || f.IsRemote() {
		return nil, fmt.Errorf("serial: only extended data frames are supported: %s", f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.port.Write(d.codec.Encode(f)); err != nil {
		metrics.IncError(metrics.ErrSerialWrite)
		return nil, err
	}
	return nil, nil
}

// Receive returns the next decoded frame. When the port read times out with
// no complete frame, it returns can.ErrWouldBlock.
func (d *Device) Receive() (can.Frame, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	for len(d.ready) == 0 {
		n, err := d.port.Read(d.chunk)
		if n > 0 {
			d.rxBuf.Write(d.chunk[:n])
			_ = d.codec.DecodeStream(&d.rxBuf, func(f can.Frame) { d.ready = append(d.ready, f) })
			continue
		}
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return can.Frame{}, can.ErrWouldBlock
		default:
			metrics.IncError(metrics.ErrSerialRead)
			return can.Frame{}, err
		}
	}
	f := d.ready[0]
	d.ready = d.ready[1:]
	return f, nil
}

func (d *Device) Close() error { return d.port.Close() }
