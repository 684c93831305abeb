package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
	"github.com/kstaniek/go-n2k/internal/n2k"
	"github.com/kstaniek/go-n2k/internal/tp"
)

// Serve reads frames from rx until ctx is done and dispatches single-frame
// messages to the registered handlers. Transport protocol frames are counted
// and logged but not reassembled. A receiver returning can.ErrWouldBlock is
// polled. Serve returns nil once ctx is done; any other receive error is
// returned.
func (b *Bus) Serve(ctx context.Context, rx can.Receiver) error {
	b.logger.Info("serve_start")
	defer b.logger.Info("serve_stop")
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := rx.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, can.ErrWouldBlock) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(b.pollInterval):
				}
				continue
			}
			metrics.IncError(metrics.ErrRxRead)
			return fmt.Errorf("receive: %w", err)
		}
		metrics.IncRxFrame()
		b.handleFrame(f)
	}
}

func (b *Bus) handleFrame(f can.Frame) {
	if !f.IsExtended() || f.IsRemote() {
		b.logger.Debug("rx_ignored", "frame", f.String())
		return
	}
	id, err := n2k.ParseID(f.ID())
	if err != nil {
		metrics.IncMalformed()
		b.logger.Debug("rx_bad_id", "frame", f.String(), "error", err)
		return
	}
	if tp.IsTransport(f) {
		metrics.IncRxTransport()
		if ann, err := tp.ParseAnnounce(f); err == nil {
			b.logger.Debug("bam_announce", "pgn", ann.PGN, "size", ann.Size, "packets", ann.Packets, "src", ann.Source)
		}
		return
	}
	msg, err := n2k.NewMessage(id, f.Payload())
	if err != nil {
		metrics.IncMalformed()
		return
	}
	metrics.IncRxMessage()
	b.logger.Debug("rx_frame", "id", id.String(), "len", msg.Len())
	b.reg.Dispatch(msg)
}
