package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kstaniek/go-n2k/internal/bus"
	"github.com/kstaniek/go-n2k/internal/dispatch"
	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

func (c *appConfig) segmentOptions() []tp.Option {
	if c.exactPackets {
		return []tp.Option{tp.WithExactPacketCount()}
	}
	return nil
}

func (c *appConfig) registry() *dispatch.Registry {
	r := dispatch.New()
	r.OutBufSize = c.handlerBuffer
	if c.handlerPolicy == "kick" {
		r.Policy = dispatch.PolicyKick
	}
	return r
}

func (c *appConfig) busOptions(reg *dispatch.Registry, l *slog.Logger) []bus.Option {
	return []bus.Option{
		bus.WithAddress(uint8(c.address)),
		bus.WithMaxRetries(uint(c.txRetries)),
		bus.WithRetryDelay(c.retryDelay, max(c.retryDelay, bus.DefaultMaxRetryDelay)),
		bus.WithMaxEvictions(c.maxEvictions),
		bus.WithSegmentOptions(c.segmentOptions()...),
		bus.WithRegistry(reg),
		bus.WithLogger(l),
	}
}

func (c *appConfig) name() n2k.Name {
	return n2k.Name{
		IdentityNumber:          uint32(c.identity),
		ManufacturerCode:        uint16(c.manufacturer),
		DeviceFunction:          uint8(c.devFunction),
		DeviceClass:             uint8(c.devClass),
		IndustryGroup:           n2k.IndustryGroupMarine,
		ArbitraryAddressCapable: true,
	}
}

func (c *appConfig) productInfo() n2k.Product {
	return n2k.Product{
		NMEA2000Version:    2100,
		ProductCode:        uint16(c.productCode),
		ModelID:            c.modelID,
		SoftwareVersion:    c.swVersion,
		ModelVersion:       version,
		SerialCode:         c.serialCode,
		CertificationLevel: 1,
		LoadEquivalency:    1,
	}
}

// message builds the configured message. ok is false when no PGN was given.
func (c *appConfig) message(b *bus.Bus) (msg n2k.Message, ok bool, err error) {
	if c.pgn < 0 {
		return n2k.Message{}, false, nil
	}
	data, err := c.payload()
	if err != nil {
		return n2k.Message{}, false, err
	}
	msg, err = b.NewMessage(n2k.Priority(c.priority), uint32(c.pgn), uint8(c.dst), data)
	if err != nil {
		return n2k.Message{}, false, err
	}
	return msg, true, nil
}

// runSender performs the start-up announcements and sends the configured
// message once, or every cfg.repeat until ctx is done. Failures of repeated
// sends are logged and do not stop the loop.
func runSender(ctx context.Context, b *bus.Bus, cfg *appConfig, l *slog.Logger, out io.Writer) error {
	withTimeout := func(fn func(context.Context) error) error {
		sctx, cancel := context.WithTimeout(ctx, cfg.sendTO)
		defer cancel()
		return fn(sctx)
	}
	if cfg.claim {
		if err := withTimeout(func(ctx context.Context) error { return b.ClaimAddress(ctx, cfg.name()) }); err != nil {
			return fmt.Errorf("address claim: %w", err)
		}
	}
	if cfg.product {
		if err := withTimeout(func(ctx context.Context) error { return b.SendProduct(ctx, cfg.productInfo()) }); err != nil {
			return fmt.Errorf("product info: %w", err)
		}
	}
	msg, ok, err := cfg.message(b)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	send := func() error {
		if cfg.dump {
			dumpFrames(out, msg, cfg.segmentOptions()...)
		}
		return withTimeout(func(ctx context.Context) error { return b.Send(ctx, msg) })
	}
	if err := send(); err != nil {
		return err
	}
	l.Info("message_sent", "id", msg.ID().String(), "len", msg.Len())
	if cfg.repeat <= 0 {
		return nil
	}
	t := time.NewTicker(cfg.repeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := send(); err != nil && ctx.Err() == nil {
				l.Warn("repeat_send_failed", "error", err)
			}
		}
	}
}
