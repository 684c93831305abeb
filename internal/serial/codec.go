package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// Codec speaks the framing of UART CAN adapters:
//
//	2D D4 LEN DATA... SUM
//
// LEN counts DATA plus the checksum byte; SUM = 0x2D + LEN + sum(DATA) mod 256.
// Outgoing DATA is INS(1) FLAGS(1) ID(4, big-endian) PAYLOAD(0..8); incoming
// DATA is ID(4, big-endian) PAYLOAD(0..8). Only extended frames are carried.
type Codec struct{}

const (
	pre0 = 0x2D
	pre1 = 0xD4

	insSendExt = 2    // CAN UART SEND WITH EXT ID
	flagsBase  = 0x80 // classic frame, low bits carry the DLC
)

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// envelope wraps data in preamble, length and checksum.
func envelope(data []byte) []byte {
	n := len(data)
	out := make([]byte, n+4)
	out[0] = pre0
	out[1] = pre1
	out[2] = byte(n + 1)

	sum := out[2] + pre0
	for i, b := range data {
		out[3+i] = b
		sum += b
	}
	out[3+n] = sum
	return out
}

// Encode builds the outgoing wire form of f.
func (Codec) Encode(f can.Frame) []byte {
	id := f.ID()
	tab := make([]byte, 6+f.Len)
	tab[0] = insSendExt
	tab[1] = flagsBase + f.Len
	binary.BigEndian.PutUint32(tab[2:6], id)
	copy(tab[6:], f.Data[:f.Len])
	return envelope(tab)
}

// DecodeStream consumes complete frames from in and emits them via out.
// Partial input stays buffered for the next call; garbage before a preamble
// and frames with a bad length or checksum are skipped.
//
// Example frame (DLC=2):
//
//	2D D4 07 09 F8 01 23 AA BB BE
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	const (
		// ln = ID(4) + PAYLOAD(0..8) + checksum(1)
		minLn = 4 + 0 + 1
		maxLn = 4 + 8 + 1
	)
	header := []byte{pre0, pre1}

	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 { // need preamble + len
			return nil
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next buffer starts with preamble second byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return nil
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		id := binary.BigEndian.Uint32(data[3:7]) & can.CAN_EFF_MASK
		payload := data[7 : req-1]

		var f can.Frame
		f.CANID = id | can.CAN_EFF_FLAG
		f.Len = uint8(len(payload))
		copy(f.Data[:], payload)

		out(f)
		in.Next(req)
	}
}
