// Package cnl is a client for CAN gateways speaking the cannelloni TCP
// protocol: a CANNELLONIv1 greeting followed by a stream of frames.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// Codec encodes/decodes cannelloni frames. Stateless and safe for concurrent use.
type Codec struct{}

// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
var ErrInvalidLength = errors.New("cannelloni: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("cannelloni: truncated frame")

// Encode packs frames into a single buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + can.MaxDLC))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes written.
// Each frame is encoded as: 4-byte BE CANID (with flags), 1-byte length, payload.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var hdr [5]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(hdr[:4], f.CANID)
		hdr[4] = f.Len
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode header: %w", err)
		}
		if f.Len == 0 {
			continue
		}
		n, err = w.Write(f.Data[:f.Len&0x7F])
		total += n
		if err != nil {
			return total, fmt.Errorf("cannelloni encode data: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r.
// It returns io.EOF if called at a clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [5]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("cannelloni decode header: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[:4])
	ln := int(hdr[4] & 0x7F) // high bit reserved
	if ln > can.MaxDLC {
		metrics.IncMalformed()
		return f, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	if ln == 0 {
		return f, nil
	}
	if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
		}
		return f, fmt.Errorf("cannelloni decode payload: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0) invoking onFrame for each.
// It returns the number of frames decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
