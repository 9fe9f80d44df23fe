package printer

import "strings"

// Session is everything one print job knows about itself. The zero value
// is an idle controller with no job.
type Session struct {
	ID    uint64
	State State
	Lines int

	Device       Device // first matching scan result
	HasCandidate bool
	HasDevice    bool // a device handle exists and must be released
	LinkUp       bool // the handle is connecting or connected
	Connected    bool
	ServiceFound bool

	Header  []byte
	Pending [][]byte // chunks not yet written, in order

	Err      string
	Kind     FailureKind
	Aborting bool // failed; waiting for the link to drop before Error
}

// Active reports whether a print job owns the controller.
func (s Session) Active() bool {
	return s.State != Idle
}

// Step applies ev to s and returns the new session together with the
// commands to issue, in order. It never blocks and never touches the
// transport; events that do not apply to the current state are ignored.
func Step(s Session, ev Event) (Session, []Command) {
	// While aborting the message is held for the Error state and only the
	// disconnect is awaited.
	if _, ok := ev.(Disconnected); s.Aborting && !ok {
		return s, nil
	}

	switch ev := ev.(type) {
	case printRequested:
		if s.State != Idle {
			return s, nil
		}
		next := Session{
			ID:      s.ID + 1,
			State:   Scanning,
			Lines:   ev.Lines,
			Header:  ev.Header,
			Pending: ev.Chunks,
		}
		return next, []Command{StartScan{}}

	case errorRead:
		if s.State == Error {
			return Session{ID: s.ID}, nil
		}
		s.Err = ""
		return s, nil

	case DeviceFound:
		if s.State != Scanning || s.HasCandidate {
			return s, nil
		}
		if !ev.Device.LowEnergy || !strings.HasPrefix(ev.Device.Name, DeviceNamePrefix) {
			return s, nil
		}
		s.Device = ev.Device
		s.HasCandidate = true
		return s, nil

	case ScanFailed:
		if s.State != Scanning {
			return s, nil
		}
		return fail(s, FailureDiscovery, "Discovery error: "+errText(ev.Err))

	case ScanFinished:
		if s.State != Scanning {
			return s, nil
		}
		if !s.HasCandidate {
			return fail(s, FailureDiscovery, "No Dymo Letratag found")
		}
		s.State = Connecting
		s.HasDevice = true
		s.LinkUp = true
		return s, []Command{ArmConnectTimer{Session: s.ID}, ConnectDevice{Device: s.Device}}

	case ConnectTimeout:
		if s.State != Connecting || ev.Session != s.ID || s.Connected {
			return s, nil
		}
		return fail(s, FailureConnectionTimeout, "Device connection timeout")

	case DeviceConnected:
		if s.State != Connecting || s.Connected {
			return s, nil
		}
		s.Connected = true
		return s, []Command{DiscoverServices{}}

	case ServiceFound:
		if s.State != Connecting || !s.Connected {
			return s, nil
		}
		if strings.EqualFold(ev.UUID, ServiceUUID) {
			s.ServiceFound = true
		}
		return s, nil

	case ServiceDiscoveryFinished:
		if s.State != Connecting || !s.Connected {
			return s, nil
		}
		if !s.ServiceFound {
			return fail(s, FailureServiceNotFound, "No Letratag service found")
		}
		return s, []Command{OpenService{UUID: ServiceUUID}}

	case ServiceReady:
		if s.State != Connecting || !s.ServiceFound {
			return s, nil
		}
		s.State = Connected
		return s, []Command{DisarmConnectTimer{}, EnableNotifications{CharUUID: StatusCharUUID}}

	case DescriptorWritten:
		if s.State != Connected {
			return s, nil
		}
		if ev.Err != nil {
			return fail(s, FailureTransfer, "Device error: "+errText(ev.Err))
		}
		s.State = SendingHeader
		return s, []Command{WriteCharacteristic{CharUUID: DataCharUUID, Data: s.Header}}

	case CharacteristicWritten:
		if s.State != SendingHeader && s.State != SendingData {
			return s, nil
		}
		if ev.Err != nil {
			return fail(s, FailureTransfer, "Device error: "+errText(ev.Err))
		}
		if len(s.Pending) == 0 {
			s.State = Printing
			return s, nil
		}
		chunk := s.Pending[0]
		s.Pending = s.Pending[1:]
		s.State = SendingData
		return s, []Command{WriteCharacteristic{CharUUID: DataCharUUID, Data: chunk}}

	case CharacteristicChanged:
		if s.State != Printing || !strings.EqualFold(ev.UUID, StatusCharUUID) {
			return s, nil
		}
		s.State = Disconnecting
		return s, []Command{DisconnectDevice{}}

	case DeviceFailed:
		if !s.Active() || s.State.windingDown() {
			return s, nil
		}
		if ev.LinkLost {
			s.LinkUp = false
		}
		return fail(s, FailureDevice, "Device error: "+errText(ev.Err))

	case Disconnected:
		if !s.HasDevice {
			return s, nil
		}
		s.HasDevice = false
		s.LinkUp = false
		s.Connected = false
		cmds := []Command{ReleaseDevice{}}

		if s.State == Disconnecting {
			return Session{ID: s.ID}, cmds
		}

		msg, kind := s.Err, s.Kind
		if msg == "" {
			msg, kind = "Unexpected disconnection", FailureUnexpectedDisconnection
		}
		next, more := fail(s, kind, msg)
		return next, append(cmds, more...)
	}

	return s, nil
}

// fail records the failure. With a live link the session first asks for a
// disconnect and settles in Error once Disconnected arrives; otherwise it
// releases the handle and enters Error now.
func fail(s Session, kind FailureKind, msg string) (Session, []Command) {
	s.Err = msg
	s.Kind = kind

	if s.HasDevice && s.LinkUp {
		s.Aborting = true
		return s, []Command{DisarmConnectTimer{}, DisconnectDevice{}}
	}

	cmds := []Command{DisarmConnectTimer{}}
	if s.HasDevice {
		cmds = append(cmds, ReleaseDevice{})
	}
	return Session{ID: s.ID, State: Error, Err: msg, Kind: kind}, cmds
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
