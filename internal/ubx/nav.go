package ubx

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Message is a decoded UBX record: NavRecord, SatRecord or StatusRecord.
type Message interface {
	// Captured returns the log-capture time, zero when the log has none.
	Captured() time.Time
	isMessage()
}

// FixType is the receiver's position solution class.
type FixType int

const (
	FixNone FixType = iota
	FixDeadReckoning
	Fix2D
	Fix3D
	FixDGPS
	FixRTK
)

func (f FixType) String() string {
	switch f {
	case FixNone:
		return "no-fix"
	case FixDeadReckoning:
		return "dead-reckoning"
	case Fix2D:
		return "2D"
	case Fix3D:
		return "3D"
	case FixDGPS:
		return "DGPS"
	case FixRTK:
		return "RTK"
	default:
		return "unknown"
	}
}

// Position is only present for records with a fix.
type Position struct {
	LatDeg    float64
	LonDeg    float64
	HeightMSL float64 // meters
}

// NavRecord is one navigation solution (UBX-NAV-PVT).
type NavRecord struct {
	CaptureTime time.Time

	// ITOW is GPS time of week in milliseconds.
	ITOW uint32
	// UTC is only set when the receiver flags both date and time valid.
	UTC      time.Time
	UTCValid bool

	Fix       FixType
	GNSSFixOK bool
	Position  *Position

	HAcc        float64 // meters
	VAcc        float64 // meters
	NumSV       int
	GroundSpeed float64 // m/s
	HeadMotion  float64 // degrees
	PDOP        float64
}

func (n NavRecord) Captured() time.Time { return n.CaptureTime }
func (NavRecord) isMessage()             {}

// HasPosition reports whether lat/lon/height carry a solution.
func (n NavRecord) HasPosition() bool {
	return n.Fix != FixNone && n.Position != nil
}

const navPVTLen = 92

// NAV-PVT field offsets (u-blox M8/M9 interface description).
const (
	pvtITOW    = 0
	pvtYear    = 4
	pvtMonth   = 6
	pvtDay     = 7
	pvtHour    = 8
	pvtMin     = 9
	pvtSec     = 10
	pvtValid   = 11
	pvtNano    = 16
	pvtFixType = 20
	pvtFlags   = 21
	pvtNumSV   = 23
	pvtLon     = 24
	pvtLat     = 28
	pvtHMSL    = 36
	pvtHAcc    = 40
	pvtVAcc    = 44
	pvtGSpeed  = 60
	pvtHeadMot = 64
	pvtPDOP    = 76
)

func decodeNavPVT(p []byte) (NavRecord, error) {
	if len(p) != navPVTLen {
		return NavRecord{}, fmt.Errorf("NAV-PVT payload length %d, want %d", len(p), navPVTLen)
	}
	le := binary.LittleEndian

	n := NavRecord{
		ITOW:        le.Uint32(p[pvtITOW:]),
		NumSV:       int(p[pvtNumSV]),
		HAcc:        float64(le.Uint32(p[pvtHAcc:])) / 1e3,
		VAcc:        float64(le.Uint32(p[pvtVAcc:])) / 1e3,
		GroundSpeed: float64(int32(le.Uint32(p[pvtGSpeed:]))) / 1e3,
		HeadMotion:  float64(int32(le.Uint32(p[pvtHeadMot:]))) / 1e5,
		PDOP:        float64(le.Uint16(p[pvtPDOP:])) / 100,
	}

	valid := p[pvtValid]
	if valid&0x01 != 0 && valid&0x02 != 0 {
		nano := int32(le.Uint32(p[pvtNano:]))
		n.UTC = time.Date(int(le.Uint16(p[pvtYear:])), time.Month(p[pvtMonth]), int(p[pvtDay]),
			int(p[pvtHour]), int(p[pvtMin]), int(p[pvtSec]), 0, time.UTC).Add(time.Duration(nano))
		n.UTCValid = true
	}

	flags := p[pvtFlags]
	n.GNSSFixOK = flags&0x01 != 0
	n.Fix = fixFromRaw(p[pvtFixType], flags)

	if n.Fix != FixNone {
		lat := float64(int32(le.Uint32(p[pvtLat:]))) / 1e7
		lon := float64(int32(le.Uint32(p[pvtLon:]))) / 1e7
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return NavRecord{}, fmt.Errorf("NAV-PVT position out of range: lat=%f lon=%f", lat, lon)
		}
		n.Position = &Position{
			LatDeg:    lat,
			LonDeg:    lon,
			HeightMSL: float64(int32(le.Uint32(p[pvtHMSL:]))) / 1e3,
		}
	}
	return n, nil
}

// fixFromRaw maps NAV-PVT fixType plus flags onto FixType. A 2D/3D fix
// without gnssFixOK is reported as no fix, per the receiver's own guidance
// that position is not valid in that case.
func fixFromRaw(fixType byte, flags byte) FixType {
	fixOK := flags&0x01 != 0
	diff := flags&0x02 != 0
	carr := (flags >> 6) & 0x03
	switch fixType {
	case 1:
		return FixDeadReckoning
	case 2:
		if !fixOK {
			return FixNone
		}
		return Fix2D
	case 3, 4:
		if !fixOK {
			return FixNone
		}
		if carr != 0 {
			return FixRTK
		}
		if diff {
			return FixDGPS
		}
		return Fix3D
	default:
		return FixNone
	}
}

func rawFromFix(f FixType) (fixType byte, flags byte) {
	switch f {
	case FixDeadReckoning:
		return 1, 0
	case Fix2D:
		return 2, 0x01
	case Fix3D:
		return 3, 0x01
	case FixDGPS:
		return 3, 0x03
	case FixRTK:
		return 3, 0x01 | 2<<6
	default:
		return 0, 0
	}
}

// EncodeNavPVT builds a NAV-PVT frame carrying n. Fields that NavRecord does
// not model are written as zero.
func EncodeNavPVT(n NavRecord) []byte {
	p := make([]byte, navPVTLen)
	le := binary.LittleEndian

	le.PutUint32(p[pvtITOW:], n.ITOW)
	if n.UTCValid {
		u := n.UTC.UTC()
		sec := u.Truncate(time.Second)
		le.PutUint16(p[pvtYear:], uint16(sec.Year()))
		p[pvtMonth] = byte(sec.Month())
		p[pvtDay] = byte(sec.Day())
		p[pvtHour] = byte(sec.Hour())
		p[pvtMin] = byte(sec.Minute())
		p[pvtSec] = byte(sec.Second())
		p[pvtValid] = 0x03
		le.PutUint32(p[pvtNano:], uint32(int32(u.Sub(sec))))
	}

	fixType, flags := rawFromFix(n.Fix)
	p[pvtFixType] = fixType
	p[pvtFlags] = flags
	p[pvtNumSV] = byte(n.NumSV)
	if n.Position != nil {
		le.PutUint32(p[pvtLon:], uint32(int32(math.Round(n.Position.LonDeg*1e7))))
		le.PutUint32(p[pvtLat:], uint32(int32(math.Round(n.Position.LatDeg*1e7))))
		le.PutUint32(p[pvtHMSL:], uint32(int32(math.Round(n.Position.HeightMSL*1e3))))
	}
	le.PutUint32(p[pvtHAcc:], uint32(math.Round(n.HAcc*1e3)))
	le.PutUint32(p[pvtVAcc:], uint32(math.Round(n.VAcc*1e3)))
	le.PutUint32(p[pvtGSpeed:], uint32(int32(math.Round(n.GroundSpeed*1e3))))
	le.PutUint32(p[pvtHeadMot:], uint32(int32(math.Round(n.HeadMotion*1e5))))
	le.PutUint16(p[pvtPDOP:], uint16(math.Round(n.PDOP*100)))

	return Encode(ClassNAV, IDNavPVT, p)
}
