package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-n2k/internal/bus"
	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/cnl"
	"github.com/kstaniek/go-n2k/internal/vcan"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenBackendSocketCAN(t *testing.T) {
	orig := openSocketCANDevice
	defer func() { openSocketCANDevice = orig }()
	var gotIf string
	openSocketCANDevice = func(iface string) (can.Device, error) {
		gotIf = iface
		return vcan.New(), nil
	}
	cfg := testConfig()
	cfg.backend, cfg.canIf = "socketcan", "vcan0"
	be, err := openBackend(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if gotIf != "vcan0" || be.dev == nil || be.run != nil {
		t.Fatalf("unexpected backend: if=%s %+v", gotIf, be)
	}

	down := errors.New("no such device")
	openSocketCANDevice = func(string) (can.Device, error) { return nil, down }
	_, err = openBackend(context.Background(), cfg, testLogger())
	if !errors.Is(err, bus.ErrCouldNotOpenBus) || !errors.Is(err, down) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
}

func TestOpenBackendSerial(t *testing.T) {
	orig := openSerialDevice
	defer func() { openSerialDevice = orig }()
	var gotName string
	var gotBaud int
	openSerialDevice = func(name string, baud int, _ time.Duration) (can.Device, error) {
		gotName, gotBaud = name, baud
		return vcan.New(), nil
	}
	cfg := testConfig()
	cfg.backend, cfg.serialDev, cfg.baud = "serial", "/dev/ttyACM0", 250000
	if _, err := openBackend(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if gotName != "/dev/ttyACM0" || gotBaud != 250000 {
		t.Fatalf("unexpected serial args %s %d", gotName, gotBaud)
	}
}

func TestOpenBackendCannelloniDiscovers(t *testing.T) {
	origDial, origDiscover := dialGateway, discoverGateway
	defer func() { dialGateway, discoverGateway = origDial, origDiscover }()
	discoverGateway = func(context.Context, time.Duration) (string, error) { return "10.0.0.5:20000", nil }
	var dialed string
	dialGateway = func(_ context.Context, addr string, _ time.Duration) (can.Device, error) {
		dialed = addr
		return vcan.New(), nil
	}
	cfg := testConfig()
	cfg.backend = "cannelloni"
	if _, err := openBackend(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if dialed != "10.0.0.5:20000" {
		t.Fatalf("expected discovered address, dialed %q", dialed)
	}

	cfg.cnlRemote = "gw:1"
	discoverGateway = func(context.Context, time.Duration) (string, error) {
		t.Fatal("discovery must be skipped when a remote is configured")
		return "", nil
	}
	if _, err := openBackend(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	if dialed != "gw:1" {
		t.Fatalf("expected configured remote, dialed %q", dialed)
	}

	cfg.cnlRemote = ""
	discoverGateway = func(context.Context, time.Duration) (string, error) { return "", cnl.ErrNoGateway }
	_, err := openBackend(context.Background(), cfg, testLogger())
	if !errors.Is(err, cnl.ErrNoGateway) {
		t.Fatalf("expected ErrNoGateway, got %v", err)
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.backend = "usb"
	if _, err := openBackend(context.Background(), cfg, testLogger()); !errors.Is(err, bus.ErrCouldNotOpenBus) {
		t.Fatalf("expected ErrCouldNotOpenBus, got %v", err)
	}
}

type errReceiver struct{ err error }

func (r errReceiver) Receive() (can.Frame, error) { return can.Frame{}, r.err }

func TestRunReceiverBackoff(t *testing.T) {
	orig := sleepFn
	defer func() { sleepFn = orig }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var slept []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		if len(slept) == 7 {
			cancel()
		}
	}
	b := bus.New(nil, bus.WithLogger(testLogger()))
	defer b.Close()
	if err := runReceiver(ctx, b, errReceiver{err: io.ErrUnexpectedEOF}, testLogger()); err != nil {
		t.Fatalf("runReceiver: %v", err)
	}
	want := []time.Duration{
		20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond,
		160 * time.Millisecond, 320 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %v got %v", i, want[i], slept[i])
		}
	}
}

func TestRunReceiverClosedDevice(t *testing.T) {
	b := bus.New(nil, bus.WithLogger(testLogger()))
	defer b.Close()
	err := runReceiver(context.Background(), b, errReceiver{err: can.ErrClosed}, testLogger())
	if !errors.Is(err, can.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRunVirtualWireDrains(t *testing.T) {
	c := vcan.New(vcan.WithFIFOOrder(), vcan.WithLoopback())
	f, err := can.NewExtended(0x19F11223, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Transmit(f); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runVirtualWire(ctx, c, 100*time.Microsecond) }()

	deadline := time.Now().Add(time.Second)
	for {
		got, err := c.Receive()
		if err == nil {
			if got != f {
				t.Fatalf("unexpected frame %v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for looped back frame")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runVirtualWire: %v", err)
	}
}
