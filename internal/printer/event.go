package printer

// LetraTag GATT identifiers.
const (
	ServiceUUID  = "be3dd650-2b3d-42f1-99c1-f0f749dd0678"
	DataCharUUID = "be3dd651-2b3d-42f1-99c1-f0f749dd0678"
	// StatusCharUUID notifies once the printer has finished the label.
	StatusCharUUID = "be3dd652-2b3d-42f1-99c1-f0f749dd0678"

	// DeviceNamePrefix matches the advertised name of every LetraTag.
	DeviceNamePrefix = "Letratag"
)

// Device identifies a peripheral seen during a scan.
type Device struct {
	Name      string
	Address   string
	LowEnergy bool
}

// Event is something that happened to the session: a transport completion,
// a timer, or a caller request.
type Event interface {
	event()
}

// DeviceFound reports one advertising peripheral.
type DeviceFound struct {
	Device Device
}

// ScanFinished ends a scan started by StartScan.
type ScanFinished struct{}

// ScanFailed reports that the scan itself could not run.
type ScanFailed struct {
	Err error
}

// ConnectTimeout fires when the connect timer of session Session expires.
type ConnectTimeout struct {
	Session uint64
}

// DeviceConnected reports an established link.
type DeviceConnected struct{}

// DeviceFailed reports a transport error in any phase. LinkLost is set
// when the failure left the device unconnected, so no disconnect is needed.
type DeviceFailed struct {
	Err      error
	LinkLost bool
}

// ServiceFound reports one primary service of the connected device.
type ServiceFound struct {
	UUID string
}

// ServiceDiscoveryFinished follows the last ServiceFound.
type ServiceDiscoveryFinished struct{}

// ServiceReady reports that the opened service's characteristics are known.
type ServiceReady struct{}

// DescriptorWritten completes EnableNotifications.
type DescriptorWritten struct {
	Err error
}

// CharacteristicWritten completes WriteCharacteristic.
type CharacteristicWritten struct {
	Err error
}

// CharacteristicChanged carries a notification.
type CharacteristicChanged struct {
	UUID  string
	Value []byte
}

// Disconnected reports that the link is down, requested or not.
type Disconnected struct{}

// printRequested starts a session. The controller builds it from a
// validated raster.
type printRequested struct {
	Lines  int
	Header []byte
	Chunks [][]byte
}

// errorRead is delivered when the caller consumes the error message.
type errorRead struct{}

func (DeviceFound) event()              {}
func (ScanFinished) event()             {}
func (ScanFailed) event()               {}
func (ConnectTimeout) event()           {}
func (DeviceConnected) event()          {}
func (DeviceFailed) event()             {}
func (ServiceFound) event()             {}
func (ServiceDiscoveryFinished) event() {}
func (ServiceReady) event()             {}
func (DescriptorWritten) event()        {}
func (CharacteristicWritten) event()    {}
func (CharacteristicChanged) event()    {}
func (Disconnected) event()             {}
func (printRequested) event()           {}
func (errorRead) event()                {}
