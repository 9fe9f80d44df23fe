package printer

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/chaz8081/ltprint/internal/ble/protocol"
)

var letratag = Device{Name: "Letratag 200B", Address: "AA:BB:CC:DD:EE:FF", LowEnergy: true}

func makeRequest(t *testing.T, lines int) printRequested {
	t.Helper()
	r := make(protocol.Raster, lines*protocol.StripWidth)
	for i := range r {
		r[i] = i%5 == 0
	}
	header, body, err := protocol.Encode(r)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return printRequested{Lines: lines, Header: header, Chunks: protocol.Chunk(body)}
}

// steps applies events in order and collects every command issued.
func steps(s Session, evs ...Event) (Session, []Command) {
	var all []Command
	for _, ev := range evs {
		var cmds []Command
		s, cmds = Step(s, ev)
		all = append(all, cmds...)
	}
	return s, all
}

// connectedSession walks a fresh session up to Connected.
func connectedSession(t *testing.T, req printRequested) Session {
	t.Helper()
	s, _ := steps(Session{}, req,
		DeviceFound{Device: letratag},
		ScanFinished{},
		DeviceConnected{},
		ServiceFound{UUID: ServiceUUID},
		ServiceDiscoveryFinished{},
		ServiceReady{},
	)
	if s.State != Connected {
		t.Fatalf("State = %v, want Connected", s.State)
	}
	return s
}

func TestStepPrintFromIdle(t *testing.T) {
	req := makeRequest(t, 1)
	s, cmds := Step(Session{}, req)

	if s.State != Scanning {
		t.Errorf("State = %v, want Scanning", s.State)
	}
	if s.ID != 1 {
		t.Errorf("ID = %d, want 1", s.ID)
	}
	if !reflect.DeepEqual(cmds, []Command{StartScan{}}) {
		t.Errorf("commands = %#v, want [StartScan]", cmds)
	}
}

func TestStepPrintIgnoredWhileActive(t *testing.T) {
	s, _ := Step(Session{}, makeRequest(t, 1))
	again, cmds := Step(s, makeRequest(t, 2))

	if again.ID != s.ID || again.State != Scanning || again.Lines != 1 {
		t.Errorf("second print changed the session: %+v", again)
	}
	if cmds != nil {
		t.Errorf("second print issued commands: %#v", cmds)
	}
}

func TestStepFirstMatchingDeviceWins(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1),
		DeviceFound{Device: Device{Name: "Headphones", Address: "11", LowEnergy: true}},
		DeviceFound{Device: Device{Name: "Letratag classic", Address: "22", LowEnergy: false}},
		DeviceFound{Device: letratag},
		DeviceFound{Device: Device{Name: "Letratag other", Address: "33", LowEnergy: true}},
	)
	if !s.HasCandidate {
		t.Fatal("no candidate recorded")
	}
	if s.Device != letratag {
		t.Errorf("Device = %+v, want %+v", s.Device, letratag)
	}
	if s.State != Scanning {
		t.Errorf("State = %v, want Scanning", s.State)
	}
}

func TestStepNoDeviceFound(t *testing.T) {
	s, cmds := steps(Session{}, makeRequest(t, 1), ScanFinished{})

	if s.State != Error {
		t.Fatalf("State = %v, want Error", s.State)
	}
	if s.Err != "No Dymo Letratag found" {
		t.Errorf("Err = %q, want %q", s.Err, "No Dymo Letratag found")
	}
	for _, c := range cmds {
		if _, ok := c.(ConnectDevice); ok {
			t.Error("ConnectDevice issued without a device")
		}
	}
}

func TestStepScanFailed(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1), ScanFailed{Err: errors.New("adapter off")})
	if s.State != Error || s.Err != "Discovery error: adapter off" {
		t.Errorf("got state %v err %q", s.State, s.Err)
	}
}

func TestStepScanFinishedConnects(t *testing.T) {
	s, cmds := steps(Session{}, makeRequest(t, 1), DeviceFound{Device: letratag}, ScanFinished{})

	if s.State != Connecting {
		t.Fatalf("State = %v, want Connecting", s.State)
	}
	want := []Command{StartScan{}, ArmConnectTimer{Session: 1}, ConnectDevice{Device: letratag}}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %#v, want %#v", cmds, want)
	}
}

func TestStepHappyPath(t *testing.T) {
	req := makeRequest(t, 40) // 18 + 160 + 8 bytes: one chunk
	bigReq := makeRequest(t, 300)
	if len(bigReq.Chunks) < 3 {
		t.Fatalf("expected a multi-chunk request, got %d chunks", len(bigReq.Chunks))
	}

	for _, tc := range []struct {
		name string
		req  printRequested
	}{
		{name: "single chunk", req: req},
		{name: "many chunks", req: bigReq},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := connectedSession(t, tc.req)

			s, cmds := Step(s, DescriptorWritten{})
			if s.State != SendingHeader {
				t.Fatalf("State = %v, want SendingHeader", s.State)
			}

			var writes [][]byte
			for {
				if len(cmds) != 1 {
					t.Fatalf("commands = %#v, want a single write", cmds)
				}
				w, ok := cmds[0].(WriteCharacteristic)
				if !ok || w.CharUUID != DataCharUUID {
					t.Fatalf("command = %#v, want data write", cmds[0])
				}
				writes = append(writes, w.Data)

				s, cmds = Step(s, CharacteristicWritten{})
				if s.State == Printing {
					break
				}
				if s.State != SendingData {
					t.Fatalf("State = %v, want SendingData", s.State)
				}
			}

			if !bytes.Equal(writes[0], tc.req.Header) {
				t.Errorf("first write = % x, want header % x", writes[0], tc.req.Header)
			}
			if !reflect.DeepEqual(writes[1:], tc.req.Chunks) {
				t.Errorf("chunk writes out of order or incomplete: got %d, want %d", len(writes)-1, len(tc.req.Chunks))
			}
			if cmds != nil {
				t.Errorf("entering Printing issued %#v", cmds)
			}

			// notifications on other characteristics are ignored
			s, cmds = Step(s, CharacteristicChanged{UUID: DataCharUUID, Value: []byte{1}})
			if s.State != Printing || cmds != nil {
				t.Fatalf("non-status notification moved session to %v", s.State)
			}

			s, cmds = Step(s, CharacteristicChanged{UUID: StatusCharUUID, Value: []byte{0}})
			if s.State != Disconnecting {
				t.Fatalf("State = %v, want Disconnecting", s.State)
			}
			if !reflect.DeepEqual(cmds, []Command{DisconnectDevice{}}) {
				t.Errorf("commands = %#v, want [DisconnectDevice]", cmds)
			}

			s, cmds = Step(s, Disconnected{})
			if s.State != Idle || s.HasDevice || s.Err != "" {
				t.Errorf("after disconnect: %+v, want clean Idle", s)
			}
			if !reflect.DeepEqual(cmds, []Command{ReleaseDevice{}}) {
				t.Errorf("commands = %#v, want [ReleaseDevice]", cmds)
			}
		})
	}
}

func TestStepServiceReadyDisarmsTimer(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1),
		DeviceFound{Device: letratag},
		ScanFinished{},
		DeviceConnected{},
		ServiceFound{UUID: "0000180a-0000-1000-8000-00805f9b34fb"},
		ServiceFound{UUID: ServiceUUID},
	)
	s, cmds := Step(s, ServiceDiscoveryFinished{})
	if !reflect.DeepEqual(cmds, []Command{OpenService{UUID: ServiceUUID}}) {
		t.Fatalf("commands = %#v, want [OpenService]", cmds)
	}

	s, cmds = Step(s, ServiceReady{})
	want := []Command{DisarmConnectTimer{}, EnableNotifications{CharUUID: StatusCharUUID}}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %#v, want %#v", cmds, want)
	}
	if s.State != Connected {
		t.Errorf("State = %v, want Connected", s.State)
	}
}

func TestStepServiceUUIDCaseInsensitive(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1),
		DeviceFound{Device: letratag}, ScanFinished{}, DeviceConnected{},
		ServiceFound{UUID: "BE3DD650-2B3D-42F1-99C1-F0F749DD0678"},
	)
	if !s.ServiceFound {
		t.Error("upper-case service UUID not recognised")
	}
}

func TestStepServiceNotFound(t *testing.T) {
	s, cmds := steps(Session{}, makeRequest(t, 1),
		DeviceFound{Device: letratag}, ScanFinished{}, DeviceConnected{},
		ServiceDiscoveryFinished{},
	)
	if !s.Aborting || s.State != Connecting {
		t.Fatalf("session = %+v, want aborting in Connecting", s)
	}
	if last := cmds[len(cmds)-1]; last != (DisconnectDevice{}) {
		t.Errorf("last command = %#v, want DisconnectDevice", last)
	}

	s, _ = Step(s, Disconnected{})
	if s.State != Error || s.Err != "No Letratag service found" {
		t.Errorf("got state %v err %q", s.State, s.Err)
	}
}

func TestStepConnectTimeout(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1), DeviceFound{Device: letratag}, ScanFinished{})

	s, cmds := Step(s, ConnectTimeout{Session: s.ID})
	want := []Command{DisarmConnectTimer{}, DisconnectDevice{}}
	if !reflect.DeepEqual(cmds, want) {
		t.Fatalf("commands = %#v, want %#v", cmds, want)
	}

	s, cmds = Step(s, Disconnected{})
	if s.State != Error || s.Err != "Device connection timeout" {
		t.Errorf("got state %v err %q", s.State, s.Err)
	}
	if s.Kind != FailureConnectionTimeout {
		t.Errorf("Kind = %v, want %v", s.Kind, FailureConnectionTimeout)
	}
	if cmds[0] != (ReleaseDevice{}) {
		t.Errorf("first command = %#v, want ReleaseDevice", cmds[0])
	}
}

func TestStepConnectTimeoutIgnored(t *testing.T) {
	base, _ := steps(Session{}, makeRequest(t, 1), DeviceFound{Device: letratag}, ScanFinished{})

	t.Run("already connected", func(t *testing.T) {
		s, _ := Step(base, DeviceConnected{})
		s, cmds := Step(s, ConnectTimeout{Session: s.ID})
		if s.Aborting || s.State != Connecting || cmds != nil {
			t.Errorf("timeout after connect acted: %+v %#v", s, cmds)
		}
	})

	t.Run("stale session", func(t *testing.T) {
		s, cmds := Step(base, ConnectTimeout{Session: base.ID - 1})
		if s.Aborting || cmds != nil {
			t.Errorf("stale timeout acted: %+v %#v", s, cmds)
		}
	})
}

func TestStepUnexpectedDisconnection(t *testing.T) {
	s := connectedSession(t, makeRequest(t, 300))
	s, _ = steps(s, DescriptorWritten{}, CharacteristicWritten{})
	if s.State != SendingData {
		t.Fatalf("State = %v, want SendingData", s.State)
	}

	s, cmds := Step(s, Disconnected{})
	if s.State != Error {
		t.Fatalf("State = %v, want Error", s.State)
	}
	if s.Err != "Unexpected disconnection" {
		t.Errorf("Err = %q, want %q", s.Err, "Unexpected disconnection")
	}
	if s.Kind != FailureUnexpectedDisconnection {
		t.Errorf("Kind = %v", s.Kind)
	}
	for _, c := range cmds {
		if c == (DisconnectDevice{}) {
			t.Error("DisconnectDevice issued for a link that is already down")
		}
	}
}

func TestStepDisconnectKeepsPriorMessage(t *testing.T) {
	s := connectedSession(t, makeRequest(t, 1))
	s, _ = Step(s, DeviceFailed{Err: errors.New("remote host closed")})
	if !s.Aborting {
		t.Fatal("session not aborting after device error")
	}
	s, _ = Step(s, Disconnected{})
	if s.Err != "Device error: remote host closed" {
		t.Errorf("Err = %q", s.Err)
	}
}

func TestStepDeviceFailedLinkLost(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1), DeviceFound{Device: letratag}, ScanFinished{})
	s, cmds := Step(s, DeviceFailed{Err: errors.New("connection refused"), LinkLost: true})

	if s.State != Error {
		t.Fatalf("State = %v, want Error", s.State)
	}
	want := []Command{DisarmConnectTimer{}, ReleaseDevice{}}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %#v, want %#v", cmds, want)
	}
}

func TestStepFailedWrite(t *testing.T) {
	s := connectedSession(t, makeRequest(t, 1))
	s, _ = Step(s, DescriptorWritten{})
	s, cmds := Step(s, CharacteristicWritten{Err: errors.New("att error 0x0e")})

	if !s.Aborting {
		t.Fatal("failed write did not abort")
	}
	if s.Kind != FailureTransfer {
		t.Errorf("Kind = %v, want %v", s.Kind, FailureTransfer)
	}
	if cmds[len(cmds)-1] != (DisconnectDevice{}) {
		t.Errorf("commands = %#v, want trailing DisconnectDevice", cmds)
	}
}

func TestStepAbortingIgnoresEvents(t *testing.T) {
	s := connectedSession(t, makeRequest(t, 1))
	s, _ = Step(s, DeviceFailed{Err: errors.New("boom")})

	for _, ev := range []Event{
		DescriptorWritten{},
		CharacteristicWritten{},
		CharacteristicChanged{UUID: StatusCharUUID},
		ServiceReady{},
		DeviceFailed{Err: errors.New("again")},
		makeRequest(t, 1),
	} {
		next, cmds := Step(s, ev)
		if !reflect.DeepEqual(next, s) || cmds != nil {
			t.Errorf("%T acted while aborting", ev)
		}
	}
}

func TestStepAbortingKeepsMessageForError(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1), DeviceFound{Device: letratag}, ScanFinished{})
	s, _ = Step(s, ConnectTimeout{Session: s.ID})
	if !s.Aborting {
		t.Fatal("expected aborting session")
	}

	s, _ = Step(s, errorRead{})
	if s.Err != "Device connection timeout" {
		t.Errorf("Err = %q after read while aborting", s.Err)
	}

	s, _ = Step(s, Disconnected{})
	if s.State != Error || s.Err != "Device connection timeout" || s.Kind != FailureConnectionTimeout {
		t.Errorf("got state %v err %q kind %v", s.State, s.Err, s.Kind)
	}
}

func TestStepErrorReadResetsToIdle(t *testing.T) {
	s, _ := steps(Session{}, makeRequest(t, 1), ScanFinished{})
	if s.State != Error {
		t.Fatalf("State = %v, want Error", s.State)
	}

	s, _ = Step(s, errorRead{})
	if s.State != Idle || s.Err != "" {
		t.Errorf("after read: state %v err %q", s.State, s.Err)
	}

	// a new session can start and gets a fresh id
	s, _ = Step(s, makeRequest(t, 1))
	if s.State != Scanning || s.ID != 2 {
		t.Errorf("new session: state %v id %d", s.State, s.ID)
	}
}

func TestStepUnlistedEventsAreNoOps(t *testing.T) {
	transportEvents := []Event{
		DeviceFound{Device: letratag},
		ScanFinished{},
		ScanFailed{Err: errors.New("x")},
		ConnectTimeout{Session: 1},
		DeviceConnected{},
		DeviceFailed{Err: errors.New("x")},
		ServiceFound{UUID: ServiceUUID},
		ServiceDiscoveryFinished{},
		ServiceReady{},
		DescriptorWritten{},
		CharacteristicWritten{},
		CharacteristicChanged{UUID: StatusCharUUID},
		Disconnected{},
	}

	idle := Session{}
	errored, _ := steps(Session{}, makeRequest(t, 1), ScanFinished{})

	for _, s := range []Session{idle, errored} {
		for _, ev := range transportEvents {
			next, cmds := Step(s, ev)
			if !reflect.DeepEqual(next, s) || cmds != nil {
				t.Errorf("%v + %T changed the session", s.State, ev)
			}
		}
	}

	// from every reachable state, every event leaves a known state
	reachable := []Session{idle, errored, connectedSession(t, makeRequest(t, 2))}
	for _, s := range reachable {
		for _, ev := range transportEvents {
			next, _ := Step(s, ev)
			if next.State < Idle || next.State > Error {
				t.Errorf("%v + %T produced invalid state %d", s.State, ev, next.State)
			}
		}
	}
}
