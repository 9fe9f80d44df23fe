// Package ble provides the Bluetooth Low Energy side of the LetraTag
// printer: a small adapter abstraction over tinygo-org/bluetooth and a
// Transport that turns its blocking GATT calls into printer events.
package ble

import (
	"context"
	"errors"
)

// ErrAdapterPowered is returned by Enable when the host's Bluetooth
// controller is switched off.
var ErrAdapterPowered = errors.New("ble: bluetooth adapter is powered off")

// ErrNotConnected is reported for GATT requests made without a link.
var ErrNotConnected = errors.New("ble: not connected")

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the lower-case characteristic UUID.
	UUID() string
	// Write sends data to the characteristic and waits for the response.
	Write(data []byte) error
	// Subscribe enables notifications and registers a callback for them.
	Subscribe(callback func(data []byte)) error
}

// Service represents a primary GATT service of a connected peripheral.
type Service interface {
	UUID() string
	DiscoverCharacteristics() ([]Characteristic, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string // MAC on Linux/Windows, CoreBluetooth UUID on macOS
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverServices lists every primary service of the peripheral.
	DiscoverServices() ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers advertising peripherals until ctx is done and returns
	// them in discovery order, one entry per address.
	Scan(ctx context.Context) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
