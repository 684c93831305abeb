package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-n2k/internal/bus"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("n2k-node %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	metrics.InitBuildInfo(version, commit, date)
	var shutdownHTTP func()
	if cfg.metricsAddr != "" {
		srv := metrics.StartHTTP(cfg.metricsAddr)
		shutdownHTTP = func() { _ = srv.Shutdown(context.Background()) }
	}

	err := run(ctx, cfg, l, os.Stdout)
	stop()
	if shutdownHTTP != nil {
		shutdownHTTP()
	}
	if err != nil {
		l.Error("exit", "error", err)
		os.Exit(1)
	}
}

// run opens the backend and drives the receive and send loops until the
// sends complete, or until ctx is done in monitor or repeat mode.
func run(ctx context.Context, cfg *appConfig, l *slog.Logger, out io.Writer) error {
	be, err := openBackend(ctx, cfg, l)
	if err != nil {
		return err
	}
	b := bus.New(be.dev, cfg.busOptions(cfg.registry(), l)...)
	defer b.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var ready atomic.Bool
	metrics.SetReadinessFunc(func() bool { return ready.Load() && ctx.Err() == nil })

	g, gctx := errgroup.WithContext(ctx)
	if be.run != nil {
		g.Go(func() error { return be.run(gctx) })
	}
	g.Go(func() error { return runMetricsLogger(gctx, cfg.logMetricsEvery, l) })
	if cfg.monitor {
		b.Register(&monitor{w: out})
		g.Go(func() error { return runReceiver(gctx, b, be.dev, l) })
	}
	g.Go(func() error {
		ready.Store(true)
		if err := runSender(gctx, b, cfg, l, out); err != nil {
			return err
		}
		if !cfg.monitor && cfg.repeat <= 0 {
			cancel()
		}
		return nil
	})
	// Closing the device unblocks readers stuck in the kernel.
	g.Go(func() error {
		<-gctx.Done()
		return be.dev.Close()
	})
	err = g.Wait()
	l.Info("shutdown", "tx_frames", metrics.Snap().TxFrames)
	return err
}
