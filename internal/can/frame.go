package can

import (
	"errors"
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDLC is the payload capacity of a classic CAN frame.
const MaxDLC = 8

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classic CAN 2.0 frame used across the stack.
// CANID carries the EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is the data length code (0..8); only the first Len bytes of Data are valid
// for data frames.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxDLC]byte
}

// NewExtended builds a data frame with a 29-bit identifier.
func NewExtended(id uint32, data []byte) (Frame, error) {
	if id > CAN_EFF_MASK {
		return Frame{}, fmt.Errorf("%w: 0x%X exceeds 29 bits", ErrInvalidID, id)
	}
	return newFrame(id|CAN_EFF_FLAG, data)
}

// NewStandard builds a data frame with an 11-bit identifier.
func NewStandard(id uint32, data []byte) (Frame, error) {
	if id > CAN_SFF_MASK {
		return Frame{}, fmt.Errorf("%w: 0x%X exceeds 11 bits", ErrInvalidID, id)
	}
	return newFrame(id, data)
}

func newFrame(canID uint32, data []byte) (Frame, error) {
	if len(data) > MaxDLC {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLen, len(data))
	}
	f := Frame{CANID: canID, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// WithRTR returns a copy of f marked as a remote frame with the given DLC.
// Remote frames carry no data.
func (f Frame) WithRTR(dlc uint8) Frame {
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	g := Frame{CANID: f.CANID | CAN_RTR_FLAG, Len: dlc}
	return g
}

// ID returns the identifier without flag bits.
func (f Frame) ID() uint32 {
	if f.IsExtended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) IsExtended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) IsStandard() bool { return !f.IsExtended() }
func (f Frame) IsRemote() bool   { return f.CANID&CAN_RTR_FLAG != 0 }
func (f Frame) IsData() bool     { return !f.IsRemote() }

// DLC returns the data length code. For remote frames it may be non-zero even
// though no data is carried.
func (f Frame) DLC() int { return int(f.Len) }

// Payload returns the valid data bytes (empty for remote frames).
func (f Frame) Payload() []byte {
	if f.IsRemote() {
		return nil
	}
	n := int(f.Len)
	if n > MaxDLC {
		n = MaxDLC
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > MaxDLC {
		return ErrInvalidLen
	}
	if f.IsExtended() {
		if f.CANID&^(CAN_EFF_FLAG|CAN_RTR_FLAG|CAN_ERR_FLAG) > CAN_EFF_MASK {
			return ErrInvalidID
		}
		return nil
	}
	if f.CANID&^(CAN_RTR_FLAG|CAN_ERR_FLAG) > CAN_SFF_MASK {
		return ErrInvalidID
	}
	return nil
}

// String renders the frame in candump compact form, e.g. 18EB00FF#01020304.
func (f Frame) String() string {
	var b strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&b, "%08X#", f.ID())
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID())
	}
	if f.IsRemote() {
		fmt.Fprintf(&b, "R%d", f.Len)
		return b.String()
	}
	for _, c := range f.Payload() {
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}
