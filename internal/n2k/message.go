package n2k

import "fmt"

const (
	// MaxPackets is the largest TP.DT sequence number (one byte, starting at 1).
	MaxPackets = 255
	// BytesPerPacket is the payload carried by one TP.DT frame.
	BytesPerPacket = 7
	// MaxPayload is the largest message the BAM transport can carry. The
	// announce frame's 16-bit size field allows more, the sequence counter
	// does not.
	MaxPayload = MaxPackets * BytesPerPacket // 1785
)

// Well-known parameter group numbers.
const (
	PGNISORequest      uint32 = 0x00EA00 // 59904
	PGNTPDT            uint32 = 0x00EB00 // 60160, ISO transport protocol data transfer
	PGNTPCM            uint32 = 0x00EC00 // 60416, ISO transport protocol connection management
	PGNISOAddressClaim uint32 = 0x00EE00 // 60928
	PGNProductInfo     uint32 = 0x01F014 // 126996
)

// Message is an identifier plus its payload. It owns a private copy of the
// payload and never changes after construction.
type Message struct {
	id   ID
	data []byte
}

// NewMessage validates the payload length and copies data.
func NewMessage(id ID, data []byte) (Message, error) {
	if len(data) > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), MaxPayload)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Message{id: id, data: buf}, nil
}

func (m Message) ID() ID { return m.id }

// Data returns a copy of the payload.
func (m Message) Data() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Len returns the payload length in bytes.
func (m Message) Len() int { return len(m.data) }

func (m Message) String() string {
	return fmt.Sprintf("%s len=%d data=% X", m.id, len(m.data), m.data)
}
