package ubx

import (
	"encoding/binary"
	"fmt"
)

const (
	sync1 = 0xB5
	sync2 = 0x62

	headerLen   = 6 // sync(2) + class + id + length(2)
	checksumLen = 2

	// DefaultMaxPayload bounds the declared length accepted before a sync
	// match is treated as a false positive.
	DefaultMaxPayload = 8192
)

// Message classes and ids understood by the decoder.
const (
	ClassNAV = 0x01

	IDNavStatus = 0x03
	IDNavPVT    = 0x07
	IDNavSat    = 0x35
)

// Frame is one raw UBX frame as located in the byte stream.
type Frame struct {
	Offset   int64
	Class    byte
	ID       byte
	Length   uint16
	Payload  []byte
	Checksum [2]byte
}

// Name returns the conventional CLASS-ID label for known messages and a hex
// label otherwise.
func Name(class, id byte) string {
	if class == ClassNAV {
		switch id {
		case IDNavPVT:
			return "NAV-PVT"
		case IDNavSat:
			return "NAV-SAT"
		case IDNavStatus:
			return "NAV-STATUS"
		}
	}
	return fmt.Sprintf("0x%02X-0x%02X", class, id)
}

// Encode takes a UBX class, id and payload, prepends sync and header, and
// appends the Fletcher checksum.
func Encode(class, id byte, payload []byte) []byte {
	out := make([]byte, 0, headerLen+len(payload)+checksumLen)
	out = append(out, sync1, sync2, class, id)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	a, b := checksum(out[2:])
	return append(out, a, b)
}
