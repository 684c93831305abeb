package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/kstaniek/go-n2k/internal/bus"
	"github.com/kstaniek/go-n2k/internal/dispatch"
	"github.com/kstaniek/go-n2k/internal/metrics"
	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func init() { color.NoColor = true }

func TestMessageFromConfig(t *testing.T) {
	cfg := testConfig()
	b := bus.New(nil, cfg.busOptions(cfg.registry(), testLogger())...)
	defer b.Close()

	if _, ok, err := cfg.message(b); ok || err != nil {
		t.Fatalf("no pgn must yield no message: ok=%v err=%v", ok, err)
	}
	cfg.pgn, cfg.dst, cfg.priority, cfg.data = 59904, 10, 3, "00EE00"
	msg, ok, err := cfg.message(b)
	if err != nil || !ok {
		t.Fatalf("message: ok=%v err=%v", ok, err)
	}
	id := msg.ID()
	if id.PGN() != 59904 || id.Destination() != 10 || id.Source() != 35 || id.Priority() != n2k.Priority3 {
		t.Fatalf("unexpected id %s", id)
	}
	if !bytes.Equal(msg.Data(), []byte{0x00, 0xEE, 0x00}) {
		t.Fatalf("unexpected data % X", msg.Data())
	}
}

func TestRegistryPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.handlerPolicy, cfg.handlerBuffer = "kick", 7
	r := cfg.registry()
	defer r.Close()
	if r.OutBufSize != 7 || r.Policy != dispatch.PolicyKick {
		t.Fatalf("unexpected registry settings %d %v", r.OutBufSize, r.Policy)
	}
}

func TestDumpFrames(t *testing.T) {
	data := make([]byte, 17)
	msg, err := n2k.NewMessage(n2k.MustID(n2k.Priority6, 0x1F014, 35, n2k.AddressGlobal), data)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	dumpFrames(&buf, msg)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(tp.Frames(msg)) {
		t.Fatalf("expected %d lines, got %q", len(tp.Frames(msg)), lines)
	}
	if !strings.HasPrefix(lines[0], "tp.cm  18ECFF23 [8] 40 11 00 03 FF 14 F0 01") {
		t.Fatalf("unexpected announce line %q", lines[0])
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "tp.dt  18EBFF23 [8]") {
			t.Fatalf("unexpected data line %q", l)
		}
	}

	buf.Reset()
	single, _ := n2k.NewMessage(n2k.MustID(n2k.Priority2, 0x1F112, 35, n2k.AddressGlobal), []byte{1, 2})
	dumpFrames(&buf, single)
	if got := buf.String(); got != "single 09F11223 [2] 01 02\n" {
		t.Fatalf("unexpected single line %q", got)
	}
}

func TestRunVirtualAnnouncesAndSends(t *testing.T) {
	cfg := testConfig()
	cfg.claim, cfg.product = true, true
	cfg.pgn, cfg.data = 127250, "FF7B0AFF7FFF7FFC"
	before := metrics.Snap()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run(ctx, cfg, testLogger(), &syncBuffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	after := metrics.Snap()
	wantFrames := 1 + len(tp.Frames(mustProduct(t, cfg))) + 1
	if got := after.TxFrames - before.TxFrames; got != uint64(wantFrames) {
		t.Fatalf("expected %d frames sent, got %d", wantFrames, got)
	}
	if after.TxBAM-before.TxBAM != 1 || after.TxSingle-before.TxSingle != 2 {
		t.Fatalf("unexpected message counters: bam=%d single=%d",
			after.TxBAM-before.TxBAM, after.TxSingle-before.TxSingle)
	}
}

func mustProduct(t *testing.T, cfg *appConfig) n2k.Message {
	t.Helper()
	data, err := cfg.productInfo().Encode()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := n2k.NewMessage(n2k.MustID(n2k.Priority6, n2k.PGNProductInfo, uint8(cfg.address), n2k.AddressGlobal), data)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestRunMonitorSeesLoopback(t *testing.T) {
	cfg := testConfig()
	cfg.monitor, cfg.dump = true, true
	cfg.pgn, cfg.data = 127250, "0102030405060708"
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, testLogger(), out) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "pgn=127250 src=35 dst=255 [8] 01 02 03 04 05 06 07 08") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("monitor output missing, got %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "single 19F11223 [8]") {
		t.Fatalf("dump output missing, got %q", out.String())
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
