// Package printer drives a single LetraTag print job from device discovery
// to disconnect. A pure transition function (Step) decides what to do for
// each BLE event; the Controller feeds it events in arrival order and
// carries out the resulting commands on a Transport.
package printer

import "fmt"

// State is the print-session state reported to callers.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	Connected
	SendingHeader
	SendingData
	Printing
	Disconnecting
	Error
)

var stateNames = [...]string{
	Idle:          "Idle",
	Scanning:      "Scanning",
	Connecting:    "Connecting",
	Connected:     "Connected",
	SendingHeader: "SendingHeader",
	SendingData:   "SendingData",
	Printing:      "Printing",
	Disconnecting: "Disconnecting",
	Error:         "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// windingDown reports whether a disconnect in this state is expected.
func (s State) windingDown() bool {
	return s == Disconnecting || s == Error
}

// FailureKind classifies why a session ended in Error. It is only used
// for logging; callers see the message.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDiscovery
	FailureConnectionTimeout
	FailureDevice
	FailureServiceNotFound
	FailureUnexpectedDisconnection
	FailureTransfer
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureDiscovery:
		return "discovery"
	case FailureConnectionTimeout:
		return "connection_timeout"
	case FailureDevice:
		return "device"
	case FailureServiceNotFound:
		return "service_not_found"
	case FailureUnexpectedDisconnection:
		return "unexpected_disconnection"
	case FailureTransfer:
		return "transfer"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}
