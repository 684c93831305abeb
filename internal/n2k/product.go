package n2k

import (
	"encoding/binary"
	"fmt"
)

const (
	productStringLen = 32
	// ProductInfoLen is the size of the PGN 126996 payload.
	ProductInfoLen = 2 + 2 + 4*productStringLen + 1 + 1 // 134
)

// Product is the NMEA 2000 product information record (PGN 126996).
type Product struct {
	NMEA2000Version    uint16 // e.g. 2100 for version 2.100
	ProductCode        uint16
	ModelID            string
	SoftwareVersion    string
	ModelVersion       string
	SerialCode         string
	CertificationLevel uint8
	LoadEquivalency    uint8 // multiples of 50 mA
}

// Validate checks that every string fits its 32-byte field and is printable ASCII.
func (p Product) Validate() error {
	for _, f := range []struct{ name, v string }{
		{"model_id", p.ModelID},
		{"software_version", p.SoftwareVersion},
		{"model_version", p.ModelVersion},
		{"serial_code", p.SerialCode},
	} {
		if len(f.v) > productStringLen {
			return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidProduct, f.name, productStringLen)
		}
		for i := 0; i < len(f.v); i++ {
			if c := f.v[i]; c < 0x20 || c > 0x7E {
				return fmt.Errorf("%w: %s has non-printable byte 0x%02X", ErrInvalidProduct, f.name, c)
			}
		}
	}
	return nil
}

// Encode returns the 134-byte PGN 126996 payload. Strings are padded with 0xFF.
func (p Product) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, ProductInfoLen)
	binary.LittleEndian.PutUint16(buf[0:2], p.NMEA2000Version)
	binary.LittleEndian.PutUint16(buf[2:4], p.ProductCode)
	off := 4
	for _, s := range []string{p.ModelID, p.SoftwareVersion, p.ModelVersion, p.SerialCode} {
		field := buf[off : off+productStringLen]
		n := copy(field, s)
		for i := n; i < productStringLen; i++ {
			field[i] = 0xFF
		}
		off += productStringLen
	}
	buf[off] = p.CertificationLevel
	buf[off+1] = p.LoadEquivalency
	return buf, nil
}
