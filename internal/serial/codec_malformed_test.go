package serial

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// TestDecodeStreamMalformed ensures malformed length / checksum increment metric.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	frame := rxWire(0x18EEFF23, []byte{0xAA})
	frame[len(frame)-1] ^= 0xFF // corrupt checksum
	buf.Write(frame)
	buf.Write([]byte{0x2D, 0xD4, 0x40, 0x00}) // impossible length
	var n int
	if err := codec.DecodeStream(&buf, func(_ can.Frame) { n++ }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if n != 0 {
		t.Fatalf("decoded %d frames from garbage", n)
	}
	if after := metrics.Snap().Malformed; after < before+2 {
		t.Fatalf("expected two malformed increments, before=%d after=%d", before, after)
	}
}

func FuzzDecodeStream(f *testing.F) {
	f.Add(rxWire(0x18EEFF23, []byte{1, 2, 3}))
	f.Add([]byte{0x2D, 0xD4, 0x05, 0, 0, 0, 0, 0x32})
	f.Fuzz(func(t *testing.T, data []byte) {
		var buf bytes.Buffer
		buf.Write(data)
		_ = Codec{}.DecodeStream(&buf, func(fr can.Frame) {
			if err := fr.Validate(); err != nil {
				t.Fatalf("decoded invalid frame %v: %v", fr, err)
			}
		})
	})
}
