package modem

import (
	"fmt"
	"time"
)

// Registration is the network registration state reported by +CEREG/+CREG/+CGREG.
type Registration int

const (
	RegistrationNone Registration = iota // never reported
	NotRegistered
	RegisteredHome
	Searching
	Denied
	RegistrationUnknown
	RegisteredRoaming
)

func (r Registration) String() string {
	switch r {
	case RegistrationNone:
		return ""
	case NotRegistered:
		return "not-registered"
	case RegisteredHome:
		return "registered-home"
	case Searching:
		return "searching"
	case Denied:
		return "denied"
	case RegistrationUnknown:
		return "unknown"
	case RegisteredRoaming:
		return "registered-roaming"
	default:
		return fmt.Sprintf("registration(%d)", int(r))
	}
}

// registrationFromStat maps a 3GPP 27.007 <stat> code.
func registrationFromStat(stat int) (Registration, bool) {
	switch stat {
	case 0:
		return NotRegistered, true
	case 1:
		return RegisteredHome, true
	case 2:
		return Searching, true
	case 3:
		return Denied, true
	case 4:
		return RegistrationUnknown, true
	case 5:
		return RegisteredRoaming, true
	}
	return RegistrationUnknown, false
}

type SocketState int

const (
	SocketClosed SocketState = iota
	SocketOpen
	SocketError
)

func (s SocketState) String() string {
	switch s {
	case SocketClosed:
		return "closed"
	case SocketOpen:
		return "open"
	case SocketError:
		return "error"
	default:
		return "unknown"
	}
}

type SocketStatus struct {
	ID    *int // nil when the failing command named no connection id
	State SocketState
}

// Event marks pump-logger phases written between measurement epochs.
type Event int

const (
	EventNone Event = iota
	EventFlightMode
	EventPumping
)

func (e Event) String() string {
	switch e {
	case EventFlightMode:
		return "flight-mode"
	case EventPumping:
		return "pumping"
	default:
		return ""
	}
}

// Record is the set of modem measurements gathered in one command epoch.
// Metric fields are nil when the modem did not report them.
type Record struct {
	CaptureTime time.Time
	// Line is the 1-based line number that opened the epoch.
	Line int
	// Command is the echoed query, empty for unsolicited or single-line epochs.
	Command string

	RSRP *float64 // dBm
	RSSI *float64 // dBm
	RSRQ *float64 // dB
	SINR *float64 // dB

	Registration Registration
	// RegistrationCarried is set when Registration was not reported in this
	// epoch and was carried from an earlier one.
	RegistrationCarried bool

	Socket *SocketStatus
	Event  Event

	Incomplete bool
}

// HasData reports whether any modem field is present.
func (r Record) HasData() bool {
	return r.RSRP != nil || r.RSSI != nil || r.RSRQ != nil || r.SINR != nil ||
		r.Registration != RegistrationNone || r.Socket != nil || r.Event != EventNone
}

// hasMeasurement reports whether the epoch gathered anything itself.
func (r Record) hasMeasurement() bool {
	return r.RSRP != nil || r.RSSI != nil || r.RSRQ != nil || r.SINR != nil ||
		r.Registration != RegistrationNone || r.Socket != nil
}

func ptr(v float64) *float64 { return &v }
