package ubx

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"
)

// GNSS identifies a constellation by its UBX gnssId.
type GNSS uint8

const (
	GPS     GNSS = 0
	SBAS    GNSS = 1
	Galileo GNSS = 2
	BeiDou  GNSS = 3
	IMES    GNSS = 4
	QZSS    GNSS = 5
	GLONASS GNSS = 6
	NavIC   GNSS = 7
)

func (g GNSS) String() string {
	switch g {
	case GPS:
		return "GPS"
	case SBAS:
		return "SBAS"
	case Galileo:
		return "Galileo"
	case BeiDou:
		return "BeiDou"
	case IMES:
		return "IMES"
	case QZSS:
		return "QZSS"
	case GLONASS:
		return "GLONASS"
	case NavIC:
		return "NavIC"
	default:
		return fmt.Sprintf("GNSS(%d)", uint8(g))
	}
}

// ParseGNSS accepts either the numeric gnssId or a constellation name.
func ParseGNSS(s string) (GNSS, bool) {
	s = strings.TrimSpace(s)
	for g := GPS; g <= NavIC; g++ {
		if strings.EqualFold(s, g.String()) {
			return g, true
		}
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '7' {
		return GNSS(s[0] - '0'), true
	}
	return 0, false
}

// SatRecord is one satellite block of UBX-NAV-SAT.
type SatRecord struct {
	CaptureTime time.Time
	ITOW        uint32

	GNSS    GNSS
	SvID    uint8
	CNo     uint8 // dBHz
	Elev    int8  // degrees
	Azim    int16 // degrees
	Used    bool
	Quality uint8
}

func (s SatRecord) Captured() time.Time { return s.CaptureTime }
func (SatRecord) isMessage()             {}

const (
	navSatHeaderLen = 8
	navSatBlockLen  = 12
)

// decodeNavSat returns one record per satellite block. The block count is
// taken from the payload length; numSvs is only cross-checked.
func decodeNavSat(p []byte) ([]SatRecord, error) {
	if len(p) < navSatHeaderLen || (len(p)-navSatHeaderLen)%navSatBlockLen != 0 {
		return nil, fmt.Errorf("NAV-SAT payload length %d is not 8+12n", len(p))
	}
	le := binary.LittleEndian
	itow := le.Uint32(p[0:])
	n := (len(p) - navSatHeaderLen) / navSatBlockLen

	out := make([]SatRecord, 0, n)
	for i := 0; i < n; i++ {
		b := p[navSatHeaderLen+i*navSatBlockLen:]
		flags := le.Uint32(b[8:])
		out = append(out, SatRecord{
			ITOW:    itow,
			GNSS:    GNSS(b[0]),
			SvID:    b[1],
			CNo:     b[2],
			Elev:    int8(b[3]),
			Azim:    int16(le.Uint16(b[4:])),
			Quality: uint8(flags & 0x07),
			Used:    flags&0x08 != 0,
		})
	}
	return out, nil
}

// EncodeNavSat builds a NAV-SAT frame for one epoch.
func EncodeNavSat(itow uint32, sats []SatRecord) []byte {
	p := make([]byte, navSatHeaderLen+navSatBlockLen*len(sats))
	le := binary.LittleEndian
	le.PutUint32(p[0:], itow)
	p[4] = 1 // message version
	p[5] = byte(len(sats))
	for i, s := range sats {
		b := p[navSatHeaderLen+i*navSatBlockLen:]
		b[0] = byte(s.GNSS)
		b[1] = s.SvID
		b[2] = s.CNo
		b[3] = byte(s.Elev)
		le.PutUint16(b[4:], uint16(s.Azim))
		flags := uint32(s.Quality & 0x07)
		if s.Used {
			flags |= 0x08
		}
		le.PutUint32(b[8:], flags)
	}
	return Encode(ClassNAV, IDNavSat, p)
}

// SatIndex groups satellite records by epoch for lookup from a NAV-PVT time
// of week.
type SatIndex struct {
	itows  []uint32
	epochs map[uint32][]SatRecord
}

// maxSatLag is how far a NAV-SAT epoch may trail the NAV-PVT it is attached
// to when the receiver outputs the two at different rates.
const maxSatLag = 1000 // ms

func NewSatIndex(sats []SatRecord) *SatIndex {
	idx := &SatIndex{epochs: map[uint32][]SatRecord{}}
	for _, s := range sats {
		if _, ok := idx.epochs[s.ITOW]; !ok {
			idx.itows = append(idx.itows, s.ITOW)
		}
		idx.epochs[s.ITOW] = append(idx.epochs[s.ITOW], s)
	}
	sort.Slice(idx.itows, func(i, j int) bool { return idx.itows[i] < idx.itows[j] })
	return idx
}

// Lookup returns the satellites observed at itow, or the latest earlier
// epoch within one second.
func (idx *SatIndex) Lookup(itow uint32) []SatRecord {
	if idx == nil {
		return nil
	}
	if s, ok := idx.epochs[itow]; ok {
		return s
	}
	i := sort.Search(len(idx.itows), func(i int) bool { return idx.itows[i] > itow })
	if i == 0 {
		return nil
	}
	prev := idx.itows[i-1]
	if itow-prev > maxSatLag {
		return nil
	}
	return idx.epochs[prev]
}

// Len returns the number of distinct epochs.
func (idx *SatIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.itows)
}
