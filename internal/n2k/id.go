// Package n2k implements the NMEA 2000 / SAE J1939 addressing model: the
// 29-bit extended CAN identifier, bounded application messages, the ISO NAME
// and the product information record.
//
// Identifier layout (bit 28 is the most significant of the 29):
//
//	28..26  priority (0 = highest)
//	25      extended data page (reserved in J1939)
//	24      data page
//	23..16  PDU format (PF)
//	15..8   PDU specific (PS): destination address when PF < 240, else part of the PGN
//	7..0    source address
package n2k

import (
	"fmt"
)

// Priority is the 3-bit message priority, 0 being the highest.
type Priority uint8

const (
	Priority0 Priority = iota
	Priority1
	Priority2
	Priority3
	Priority4
	Priority5
	Priority6
	Priority7
)

// Valid reports whether p fits in 3 bits.
func (p Priority) Valid() bool { return p <= Priority7 }

const (
	// AddressGlobal is the broadcast destination.
	AddressGlobal uint8 = 0xFF
	// AddressNull is used by nodes that have not (or cannot) claim an address.
	AddressNull uint8 = 0xFE

	// MaxPGN is the largest 18-bit parameter group number.
	MaxPGN uint32 = 0x3FFFF

	// pdu2Format is the first PF value of the broadcast (PDU2) range.
	pdu2Format = 240

	maxIDValue = 0x1FFFFFFF
)

// ID is one CAN arbitration field. The zero value is priority 0, PGN 0 from
// address 0 to address 0. IDs are immutable values; build them with NewID or
// ParseID.
type ID struct {
	priority    Priority
	pgn         uint32
	source      uint8
	destination uint8
}

// NewID validates and builds an identifier.
//
// For PDU1 PGNs (PF < 240) the low byte of pgn is replaced by destination, so
// PGN() returns the group number with a zero PS byte. For PDU2 PGNs the PS byte
// belongs to the PGN and destination is forced to AddressGlobal.
func NewID(priority Priority, pgn uint32, source, destination uint8) (ID, error) {
	if !priority.Valid() {
		return ID{}, fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	if pgn > MaxPGN {
		return ID{}, fmt.Errorf("%w: 0x%X", ErrInvalidPGN, pgn)
	}
	if IsPDU1(pgn) {
		pgn &^= 0xFF
	} else {
		destination = AddressGlobal
	}
	return ID{priority: priority, pgn: pgn, source: source, destination: destination}, nil
}

// MustID is NewID that panics on error. For constants in tests and examples.
func MustID(priority Priority, pgn uint32, source, destination uint8) ID {
	id, err := NewID(priority, pgn, source, destination)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID decodes a raw 29-bit identifier (without SocketCAN flag bits).
func ParseID(v uint32) (ID, error) {
	if v > maxIDValue {
		return ID{}, fmt.Errorf("%w: 0x%X exceeds 29 bits", ErrInvalidID, v)
	}
	pgn := (v >> 8) & MaxPGN
	id := ID{
		priority: Priority((v >> 26) & 0x7),
		source:   uint8(v),
	}
	if IsPDU1(pgn) {
		id.destination = uint8(pgn)
		id.pgn = pgn &^ 0xFF
	} else {
		id.destination = AddressGlobal
		id.pgn = pgn
	}
	return id, nil
}

// Value packs the identifier into its 29-bit form.
func (id ID) Value() uint32 {
	v := uint32(id.priority)<<26 | id.pgn<<8 | uint32(id.source)
	if id.IsPDU1() {
		v |= uint32(id.destination) << 8
	}
	return v
}

func (id ID) Priority() Priority { return id.priority }
func (id ID) PGN() uint32        { return id.pgn }
func (id ID) Source() uint8      { return id.source }
func (id ID) Destination() uint8 { return id.destination }

// PDUFormat returns the PF byte.
func (id ID) PDUFormat() uint8 { return uint8(id.pgn >> 8) }

// PDUSpecific returns the PS byte as transmitted (destination for PDU1).
func (id ID) PDUSpecific() uint8 { return uint8(id.Value() >> 8) }

// DataPage returns the data page bit.
func (id ID) DataPage() uint8 { return uint8(id.pgn>>16) & 1 }

// IsPDU1 reports whether the identifier is destination specific.
func (id ID) IsPDU1() bool { return IsPDU1(id.pgn) }

// IsBroadcast reports whether the message goes to every node.
func (id ID) IsBroadcast() bool { return id.destination == AddressGlobal }

func (id ID) String() string {
	return fmt.Sprintf("prio=%d pgn=%d src=%d dst=%d", id.priority, id.pgn, id.source, id.destination)
}

// IsPDU1 reports whether pgn is in PDU1 (addressed) form, i.e. PF < 240.
func IsPDU1(pgn uint32) bool { return uint8(pgn>>8) < pdu2Format }
