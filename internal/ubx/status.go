package ubx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// StatusRecord carries the receiver navigation status (UBX-NAV-STATUS).
// Only the startup timing fields are kept.
type StatusRecord struct {
	CaptureTime time.Time
	ITOW        uint32
	GPSFix      uint8
	// TTFF is time to first fix; zero until the first fix.
	TTFF time.Duration
	// MSSS is time since receiver startup or reset.
	MSSS time.Duration
}

func (s StatusRecord) Captured() time.Time { return s.CaptureTime }
func (StatusRecord) isMessage()             {}

const navStatusLen = 16

func decodeNavStatus(p []byte) (StatusRecord, error) {
	if len(p) != navStatusLen {
		return StatusRecord{}, fmt.Errorf("NAV-STATUS payload length %d, want %d", len(p), navStatusLen)
	}
	le := binary.LittleEndian
	return StatusRecord{
		ITOW:   le.Uint32(p[0:]),
		GPSFix: p[4],
		TTFF:   time.Duration(le.Uint32(p[8:])) * time.Millisecond,
		MSSS:   time.Duration(le.Uint32(p[12:])) * time.Millisecond,
	}, nil
}

func EncodeNavStatus(s StatusRecord) []byte {
	p := make([]byte, navStatusLen)
	le := binary.LittleEndian
	le.PutUint32(p[0:], s.ITOW)
	p[4] = s.GPSFix
	le.PutUint32(p[8:], uint32(s.TTFF/time.Millisecond))
	le.PutUint32(p[12:], uint32(s.MSSS/time.Millisecond))
	return Encode(ClassNAV, IDNavStatus, p)
}
