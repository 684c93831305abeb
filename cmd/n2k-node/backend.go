package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-n2k/internal/bus"
	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/cnl"
	"github.com/kstaniek/go-n2k/internal/serial"
	"github.com/kstaniek/go-n2k/internal/socketcan"
	"github.com/kstaniek/go-n2k/internal/vcan"
)

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// virtualFrameTime is roughly one extended frame at 500 kbit/s.
	virtualFrameTime = 250 * time.Microsecond
)

// Hooks overridden in unit tests.
var (
	openSocketCANDevice = func(iface string) (can.Device, error) {
		d, err := socketcan.Open(iface)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	openSerialDevice = func(name string, baud int, to time.Duration) (can.Device, error) {
		d, err := serial.Open(name, baud, to)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	dialGateway = func(ctx context.Context, addr string, to time.Duration) (can.Device, error) {
		c, err := cnl.Dial(ctx, addr, to)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	discoverGateway = cnl.Discover
	sleepFn         = time.Sleep
)

// backend is an opened CAN device plus an optional loop that must run for
// the device to make progress.
type backend struct {
	dev can.Device
	run func(ctx context.Context) error
}

// openBackend opens the device selected by cfg.backend. It returns an error
// instead of exiting so the caller can shut down cleanly.
func openBackend(ctx context.Context, cfg *appConfig, l *slog.Logger) (*backend, error) {
	switch cfg.backend {
	case "socketcan":
		dev, err := openSocketCANDevice(cfg.canIf)
		if err != nil {
			return nil, bus.OpenError(cfg.backend, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		return &backend{dev: dev}, nil
	case "serial":
		dev, err := openSerialDevice(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, bus.OpenError(cfg.backend, err)
		}
		l.Info("serial_open", "dev", cfg.serialDev, "baud", cfg.baud)
		return &backend{dev: dev}, nil
	case "cannelloni":
		addr := cfg.cnlRemote
		if addr == "" {
			var err error
			if addr, err = discoverGateway(ctx, cfg.browseTO); err != nil {
				return nil, bus.OpenError(cfg.backend, err)
			}
		}
		dev, err := dialGateway(ctx, addr, cfg.handshakeTO)
		if err != nil {
			return nil, bus.OpenError(cfg.backend, err)
		}
		l.Info("cannelloni_connected", "remote", addr)
		return &backend{dev: dev}, nil
	case "virtual":
		// FIFO order keeps TP.CM ahead of the TP.DT frames that outrank it.
		c := vcan.New(vcan.WithLoopback(), vcan.WithFIFOOrder())
		l.Info("virtual_open", "mailboxes", vcan.DefaultMailboxes)
		return &backend{dev: c, run: func(ctx context.Context) error {
			return runVirtualWire(ctx, c, virtualFrameTime)
		}}, nil
	default:
		return nil, bus.OpenError(cfg.backend, errors.New("unknown backend"))
	}
}

// runVirtualWire empties one mailbox per tick, looping the frame back to the
// receive side.
func runVirtualWire(ctx context.Context, c *vcan.Controller, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.Pop()
		}
	}
}

type receiverFunc func() (can.Frame, error)

func (f receiverFunc) Receive() (can.Frame, error) { return f() }

// runReceiver serves rx into b, backing off after read errors until ctx is
// done. A closed device ends the loop.
func runReceiver(ctx context.Context, b *bus.Bus, rx can.Receiver, l *slog.Logger) error {
	defer l.Info("receiver_end")
	backoff := rxBackoffMin
	tracked := receiverFunc(func() (can.Frame, error) {
		f, err := rx.Receive()
		if err == nil {
			backoff = rxBackoffMin
		}
		return f, err
	})
	for {
		err := b.Serve(ctx, tracked)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, can.ErrClosed) {
			return err
		}
		l.Warn("receive_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}
