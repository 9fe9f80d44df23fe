package printer

// Command is a request Step hands back to the controller. Transport
// commands complete asynchronously with an Event.
type Command interface {
	command()
}

// StartScan scans for nearby devices for the configured timeout.
type StartScan struct{}

// ConnectDevice opens a link to Device.
type ConnectDevice struct {
	Device Device
}

// DiscoverServices lists the services of the connected device.
type DiscoverServices struct{}

// OpenService opens the service and discovers its characteristics.
type OpenService struct {
	UUID string
}

// EnableNotifications writes the client characteristic configuration
// descriptor of CharUUID.
type EnableNotifications struct {
	CharUUID string
}

// WriteCharacteristic writes Data to CharUUID and waits for the response.
type WriteCharacteristic struct {
	CharUUID string
	Data     []byte
}

// DisconnectDevice drops the link to the device.
type DisconnectDevice struct{}

// ReleaseDevice drops the device handle. It never produces an event.
type ReleaseDevice struct{}

// ArmConnectTimer starts the connect timeout for Session.
type ArmConnectTimer struct {
	Session uint64
}

// DisarmConnectTimer stops the connect timeout if it is running.
type DisarmConnectTimer struct{}

func (StartScan) command()           {}
func (ConnectDevice) command()       {}
func (DiscoverServices) command()    {}
func (OpenService) command()         {}
func (EnableNotifications) command() {}
func (WriteCharacteristic) command() {}
func (DisconnectDevice) command()    {}
func (ReleaseDevice) command()       {}
func (ArmConnectTimer) command()     {}
func (DisarmConnectTimer) command()  {}
