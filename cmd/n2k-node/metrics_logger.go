package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-n2k/internal/metrics"
)

// runMetricsLogger logs a counter snapshot every interval until ctx is done.
func runMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			snap := metrics.Snap()
			l.Info("metrics_snapshot",
				"tx_frames", snap.TxFrames,
				"tx_single", snap.TxSingle,
				"tx_bam", snap.TxBAM,
				"tx_evictions", snap.TxEvictions,
				"tx_would_block", snap.TxWouldBlock,
				"rx_frames", snap.RxFrames,
				"rx_messages", snap.RxMessages,
				"rx_transport", snap.RxTransport,
				"handler_drops", snap.HandlerDrops,
				"handler_kicks", snap.HandlerKicks,
				"errors", snap.Errors,
				"malformed", snap.Malformed,
			)
		case <-ctx.Done():
			return nil
		}
	}
}
