package n2k

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	pgns := []uint32{0x00EA00, PGNTPCM, PGNTPDT, PGNISOAddressClaim, 0x00EF00, 0x00F004, 0x00FEF1, 0x01F014, 0x01EF00, 0x02E800, 0x03FFFF}
	addrs := []uint8{0, 1, 0x7F, AddressNull, AddressGlobal}
	for p := Priority0; p <= Priority7; p++ {
		for _, pgn := range pgns {
			for _, src := range addrs {
				for _, dst := range addrs {
					id, err := NewID(p, pgn, src, dst)
					require.NoError(t, err)
					got, err := ParseID(id.Value())
					require.NoError(t, err)
					require.Equal(t, id, got, "pgn=0x%X src=%d dst=%d", pgn, src, dst)
					assert.Equal(t, p, got.Priority())
					assert.Equal(t, pgn, got.PGN())
					assert.Equal(t, src, got.Source())
					if IsPDU1(pgn) {
						assert.Equal(t, dst, got.Destination())
					} else {
						assert.Equal(t, AddressGlobal, got.Destination())
					}
				}
			}
		}
	}
}

func TestIDValueLayout(t *testing.T) {
	// address claim from 0x23 to global at priority 6
	id := MustID(Priority6, PGNISOAddressClaim, 0x23, AddressGlobal)
	assert.Equal(t, uint32(0x18EEFF23), id.Value())
	assert.True(t, id.IsPDU1())
	assert.Equal(t, uint8(0xEE), id.PDUFormat())
	assert.Equal(t, uint8(0xFF), id.PDUSpecific())

	// product information, PDU2 on data page 1
	id = MustID(Priority6, PGNProductInfo, 0x23, 0x10)
	assert.Equal(t, uint32(0x19F01423), id.Value())
	assert.False(t, id.IsPDU1())
	assert.Equal(t, AddressGlobal, id.Destination())
	assert.Equal(t, uint8(1), id.DataPage())
}

func TestNewIDFoldsDestinationIntoPDU1(t *testing.T) {
	// 12345 = 0x3039, PF 0x30 is PDU1 so the PS byte carries the destination.
	id, err := NewID(Priority0, 12345, 123, 0x42)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3000), id.PGN())
	assert.Equal(t, uint8(0x42), id.Destination())
	assert.Equal(t, uint32(0x0030427B), id.Value())
}

func TestNewIDErrors(t *testing.T) {
	_, err := NewID(Priority(8), 0xF004, 1, AddressGlobal)
	require.ErrorIs(t, err, ErrInvalidPriority)
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = NewID(Priority3, MaxPGN+1, 1, AddressGlobal)
	require.ErrorIs(t, err, ErrInvalidPGN)
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestParseIDRejectsWideValues(t *testing.T) {
	_, err := ParseID(0x20000000)
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = ParseID(0x80000000 | 0x18EEFF23)
	require.ErrorIs(t, err, ErrInvalidID)
}

func FuzzParseID(f *testing.F) {
	f.Add(uint32(0x18EEFF23))
	f.Add(uint32(0x1CECFF00))
	f.Fuzz(func(t *testing.T, v uint32) {
		id, err := ParseID(v)
		if err != nil {
			return
		}
		again, err := ParseID(id.Value())
		if err != nil || again != id {
			t.Fatalf("unstable decode for 0x%X: %v %+v %+v", v, err, id, again)
		}
	})
}
