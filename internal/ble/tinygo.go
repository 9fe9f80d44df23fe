package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows). On macOS device addresses are CoreBluetooth
// UUIDs rather than MAC addresses; Device.Address carries whichever the
// platform reports.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects connections and seen.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by device address
	seen        map[string]bluetooth.Address // addresses from the last scans
}

// NewTinygoAdapter creates a BLE adapter on the platform's default
// controller.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
		seen:        make(map[string]bluetooth.Address),
	}
}

// Enable checks the adapter is powered, enables it and starts watching
// for disconnects.
func (a *TinygoAdapter) Enable() error {
	if err := checkAdapterPowered(); err != nil {
		return err
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// Adapter-level connect/disconnect handler; fans disconnects out to
	// the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

// Scan collects advertising devices until ctx is done. Each address is
// reported once.
func (a *TinygoAdapter) Scan(ctx context.Context) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go stopScanOnDone(ctx, done, a.adapter.StopScan, stopScanRetry)

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})

		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// stopScanRetry spaces StopScan attempts made before the scan is running.
const stopScanRetry = 10 * time.Millisecond

// stopScanOnDone calls stop once ctx is done and keeps calling it until it
// succeeds or done is closed. StopScan fails while the scan has not started
// yet, so a context that expires early would otherwise leave Scan running.
func stopScanOnDone(ctx context.Context, done <-chan struct{}, stop func() error, retry time.Duration) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for {
		if err := stop(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(retry):
		}
	}
}

// Connect links to address, preferring the address seen by the last scan.
func (a *TinygoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	// tinygo/bluetooth's Connect blocks with its own timeout and cannot be
	// cancelled, so it runs aside and a late success is torn down.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				slog.Debug("[BLE] dropping connection that completed after cancel", "address", address)
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinygoConnection{device: result.device, address: address}

		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device  bluetooth.Device
	address string

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverServices() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		out = append(out, &tinygoService{svc: svcs[i], address: c.address})
	}
	return out, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoService struct {
	svc     bluetooth.DeviceService
	address string
}

func (s *tinygoService) UUID() string {
	return strings.ToLower(s.svc.UUID().String())
}

func (s *tinygoService) DiscoverCharacteristics() ([]Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &tinygoCharacteristic{char: chars[i], address: s.address})
	}
	return out, nil
}

// tinygoCharacteristic wraps a discovered characteristic. Write is
// platform specific: tinygo has no acknowledged write on Linux, so there it
// goes to BlueZ directly.
type tinygoCharacteristic struct {
	char    bluetooth.DeviceCharacteristic
	address string // owning device, used to locate the BlueZ object

	mu   sync.Mutex
	path string // BlueZ object path, resolved on first write
}

func (c *tinygoCharacteristic) UUID() string {
	return strings.ToLower(c.char.UUID().String())
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}
