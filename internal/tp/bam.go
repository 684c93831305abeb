// Package tp segments n2k messages into CAN frames using the ISO transport
// protocol broadcast announce (BAM) scheme.
//
// A message of up to 8 bytes travels in one frame with its own identifier.
// Longer messages become one TP.CM_BAM frame (PGN 0xEC00) announcing size,
// packet count and the carried PGN, followed by TP.DT frames (PGN 0xEB00)
// numbered from 1, each with up to 7 payload bytes. Unused bytes are 0xFF.
// All frames are broadcast and keep the priority and source of the message.
// Receivers rely on the order BAM, DT(1) .. DT(n).
package tp

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/n2k"
)

const (
	// ControlBAM is the TP.CM control byte of a broadcast announce.
	ControlBAM = 0x40
	// Filler pads unused data bytes.
	Filler = 0xFF
	// maxPacketsPerCTS is unused by BAM and always sent as 0xFF.
	maxPacketsPerCTS = 0xFF
)

var ErrNotAnnounce = errors.New("tp: not a BAM announce frame")

type config struct {
	exactCount bool
}

// Option configures segmentation.
type Option func(*config)

// WithExactPacketCount announces and sends ceil(len/7) data packets instead of
// the legacy len/7+1, which sends one extra all-filler packet whenever the
// length is a multiple of 7.
func WithExactPacketCount() Option { return func(c *config) { c.exactCount = true } }

// PacketCount returns the number of TP.DT frames for a payload of length bytes
// (0 when the payload fits a single frame). The count never exceeds
// n2k.MaxPackets.
func PacketCount(length int, exact bool) int {
	if length <= can.MaxDLC {
		return 0
	}
	var n int
	if exact {
		n = (length + n2k.BytesPerPacket - 1) / n2k.BytesPerPacket
	} else {
		// Legacy count: overcounts by one when length%7 == 0 (14 -> 3).
		n = length/n2k.BytesPerPacket + 1
	}
	if n > n2k.MaxPackets {
		n = n2k.MaxPackets
	}
	return n
}

// Segment returns the frames of msg in transmission order. The sequence is
// lazy; stopping early produces no further frames.
func Segment(msg n2k.Message, opts ...Option) iter.Seq[can.Frame] {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	return func(yield func(can.Frame) bool) {
		id := msg.ID()
		data := msg.Data()
		if len(data) <= can.MaxDLC {
			// TODO: detect fast-packet PGNs and frame them instead of sending raw.
			f := frame(id, uint8(len(data)))
			copy(f.Data[:], data)
			yield(f)
			return
		}

		length := len(data)
		packets := PacketCount(length, cfg.exactCount)
		pgn := id.PGN()
		cm := frame(tpID(id, n2k.PGNTPCM), can.MaxDLC)
		cm.Data = [can.MaxDLC]byte{
			ControlBAM,
			byte(length),
			byte(length >> 8),
			byte(packets),
			maxPacketsPerCTS,
			byte(pgn),
			byte(pgn >> 8),
			byte(pgn >> 16),
		}
		if !yield(cm) {
			return
		}

		dtID := tpID(id, n2k.PGNTPDT)
		for seq := 1; seq <= packets; seq++ {
			dt := frame(dtID, can.MaxDLC)
			for i := range dt.Data {
				dt.Data[i] = Filler
			}
			dt.Data[0] = byte(seq)
			if off := (seq - 1) * n2k.BytesPerPacket; off < length {
				copy(dt.Data[1:], data[off:min(off+n2k.BytesPerPacket, length)])
			}
			if !yield(dt) {
				return
			}
		}
	}
}

// Frames collects Segment into a slice.
func Frames(msg n2k.Message, opts ...Option) []can.Frame {
	return slices.Collect(Segment(msg, opts...))
}

// tpID derives the broadcast transport identifier for a message. Priority and
// PGN constants are valid by construction, so NewID cannot fail here.
func tpID(id n2k.ID, pgn uint32) n2k.ID {
	return n2k.MustID(id.Priority(), pgn, id.Source(), n2k.AddressGlobal)
}

func frame(id n2k.ID, dlc uint8) can.Frame {
	return can.Frame{CANID: id.Value() | can.CAN_EFF_FLAG, Len: dlc}
}

// Announce is the content of a TP.CM_BAM frame.
type Announce struct {
	Size    int
	Packets int
	PGN     uint32
	Source  uint8
}

// ParseAnnounce decodes a TP.CM_BAM frame.
func ParseAnnounce(f can.Frame) (Announce, error) {
	if !f.IsExtended() || f.Len != can.MaxDLC {
		return Announce{}, ErrNotAnnounce
	}
	id, err := n2k.ParseID(f.ID())
	if err != nil {
		return Announce{}, fmt.Errorf("%w: %v", ErrNotAnnounce, err)
	}
	if id.PGN() != n2k.PGNTPCM || f.Data[0] != ControlBAM {
		return Announce{}, ErrNotAnnounce
	}
	return Announce{
		Size:    int(f.Data[1]) | int(f.Data[2])<<8,
		Packets: int(f.Data[3]),
		PGN:     uint32(f.Data[5]) | uint32(f.Data[6])<<8 | uint32(f.Data[7])<<16,
		Source:  id.Source(),
	}, nil
}

// IsTransport reports whether f belongs to a multi-packet transfer.
func IsTransport(f can.Frame) bool {
	if !f.IsExtended() {
		return false
	}
	id, err := n2k.ParseID(f.ID())
	if err != nil {
		return false
	}
	return id.PGN() == n2k.PGNTPCM || id.PGN() == n2k.PGNTPDT
}
