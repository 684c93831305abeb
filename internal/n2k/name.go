package n2k

import (
	"encoding/binary"
	"fmt"
)

// Name is the 64-bit ISO 11783-5 NAME a node announces in its address claim.
type Name struct {
	IdentityNumber          uint32 // 21 bits
	ManufacturerCode        uint16 // 11 bits
	DeviceInstanceLower     uint8  // 3 bits
	DeviceInstanceUpper     uint8  // 5 bits
	DeviceFunction          uint8
	DeviceClass             uint8 // 7 bits
	SystemInstance          uint8 // 4 bits
	IndustryGroup           uint8 // 3 bits; 4 is marine
	ArbitraryAddressCapable bool
}

// IndustryGroupMarine is the industry group used by NMEA 2000 devices.
const IndustryGroupMarine = 4

type nameField struct {
	name  string
	value uint64
	bits  uint
}

func (n Name) fields() []nameField {
	return []nameField{
		{"identity_number", uint64(n.IdentityNumber), 21},
		{"manufacturer_code", uint64(n.ManufacturerCode), 11},
		{"device_instance_lower", uint64(n.DeviceInstanceLower), 3},
		{"device_instance_upper", uint64(n.DeviceInstanceUpper), 5},
		{"device_function", uint64(n.DeviceFunction), 8},
		{"reserved", 0, 1},
		{"device_class", uint64(n.DeviceClass), 7},
		{"system_instance", uint64(n.SystemInstance), 4},
		{"industry_group", uint64(n.IndustryGroup), 3},
	}
}

// Validate checks every field against its bit width.
func (n Name) Validate() error {
	for _, f := range n.fields() {
		if f.value >= 1<<f.bits {
			return fmt.Errorf("%w: %s=%d exceeds %d bits", ErrInvalidName, f.name, f.value, f.bits)
		}
	}
	return nil
}

// Value packs the NAME, identity number in the least significant bits.
func (n Name) Value() (uint64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	var v uint64
	var shift uint
	for _, f := range n.fields() {
		v |= f.value << shift
		shift += f.bits
	}
	if n.ArbitraryAddressCapable {
		v |= 1 << 63
	}
	return v, nil
}

// Bytes returns the little-endian wire form carried by PGN 60928.
func (n Name) Bytes() ([8]byte, error) {
	var b [8]byte
	v, err := n.Value()
	if err != nil {
		return b, err
	}
	binary.LittleEndian.PutUint64(b[:], v)
	return b, nil
}

// ParseName unpacks a 64-bit NAME.
func ParseName(v uint64) Name {
	get := func(shift, bits uint) uint64 { return (v >> shift) & (1<<bits - 1) }
	return Name{
		IdentityNumber:          uint32(get(0, 21)),
		ManufacturerCode:        uint16(get(21, 11)),
		DeviceInstanceLower:     uint8(get(32, 3)),
		DeviceInstanceUpper:     uint8(get(35, 5)),
		DeviceFunction:          uint8(get(40, 8)),
		DeviceClass:             uint8(get(49, 7)),
		SystemInstance:          uint8(get(56, 4)),
		IndustryGroup:           uint8(get(60, 3)),
		ArbitraryAddressCapable: v>>63 == 1,
	}
}
