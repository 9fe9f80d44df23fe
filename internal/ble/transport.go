package ble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/ltprint/internal/printer"
)

// Transport carries out printer commands on an Adapter. Each request runs
// on its own goroutine and reports back with exactly one event; the
// printer controller never has more than one request outstanding.
type Transport struct {
	adapter Adapter

	mu       sync.Mutex
	handler  func(printer.Event)
	enabled  bool
	gen      uint64 // bumped by Release; stale callbacks are dropped
	linked   bool   // a connect is pending or up and Disconnected is still owed
	cancel   context.CancelFunc
	conn     Connection
	services map[string]Service
	chars    map[string]Characteristic
}

// NewTransport creates a Transport over adapter.
func NewTransport(adapter Adapter) *Transport {
	return &Transport{adapter: adapter}
}

// Compile-time check that Transport implements printer.Transport.
var _ printer.Transport = (*Transport)(nil)

// SetEventHandler sets the function that receives every event.
func (t *Transport) SetEventHandler(handler func(printer.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// emit delivers ev unless the device it belongs to has been released.
func (t *Transport) emit(gen uint64, ev printer.Event) {
	t.mu.Lock()
	h := t.handler
	stale := gen != t.gen
	t.mu.Unlock()

	if stale {
		slog.Debug("[BLE] dropping event from released device", "event", fmt.Sprintf("%T", ev))
		return
	}
	if h != nil {
		h(ev)
	}
}

func (t *Transport) generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// enable powers the adapter on first use.
func (t *Transport) enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.enabled = true
	return nil
}

// StartScan powers the adapter if needed and scans for timeout. Each
// device is reported with DeviceFound, then ScanFinished or ScanFailed.
func (t *Transport) StartScan(timeout time.Duration) {
	gen := t.generation()
	go func() {
		if err := t.enable(); err != nil {
			t.emit(gen, printer.ScanFailed{Err: err})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		slog.Debug("[BLE] scanning", "timeout", timeout)
		devices, err := t.adapter.Scan(ctx)
		if err != nil {
			t.emit(gen, printer.ScanFailed{Err: err})
			return
		}
		for _, d := range devices {
			t.emit(gen, printer.DeviceFound{Device: printer.Device{
				Name:      d.Name,
				Address:   d.Address,
				LowEnergy: true,
			}})
		}
		t.emit(gen, printer.ScanFinished{})
	}()
}

// Connect links to dev and reports DeviceConnected or DeviceFailed.
func (t *Transport) Connect(dev printer.Device) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	gen := t.gen
	t.cancel = cancel
	t.linked = true
	t.mu.Unlock()

	go func() {
		conn, err := t.adapter.Connect(ctx, dev.Address)

		t.mu.Lock()
		cancelled := ctx.Err() != nil || gen != t.gen
		if gen == t.gen {
			t.cancel = nil
		}
		if err == nil && !cancelled {
			t.conn = conn
		}
		t.mu.Unlock()
		cancel()

		switch {
		case err != nil && cancelled:
			slog.Info("[BLE] connect abandoned", "address", dev.Address)
			if t.markDown(gen) {
				t.emit(gen, printer.Disconnected{})
			}
		case err != nil:
			slog.Warn("[BLE] connect failed", "address", dev.Address, "error", err)
			t.markDown(gen)
			t.emit(gen, printer.DeviceFailed{Err: err, LinkLost: true})
		case cancelled:
			_ = conn.Disconnect()
			if t.markDown(gen) {
				t.emit(gen, printer.Disconnected{})
			}
		default:
			conn.OnDisconnect(func() {
				if t.markDown(gen) {
					slog.Info("[BLE] disconnected", "address", dev.Address)
					t.emit(gen, printer.Disconnected{})
				}
			})
			slog.Info("[BLE] connected", "name", dev.Name, "address", dev.Address)
			t.emit(gen, printer.DeviceConnected{})
		}
	}()
}

// markDown records that the link is gone. It returns true for the first
// caller only, so Disconnected is reported once per link.
func (t *Transport) markDown(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.linked {
		return false
	}
	t.linked = false
	t.conn = nil
	return true
}

// DiscoverServices reports each service with ServiceFound, then
// ServiceDiscoveryFinished.
func (t *Transport) DiscoverServices() {
	t.mu.Lock()
	gen, conn := t.gen, t.conn
	t.mu.Unlock()

	go func() {
		if conn == nil {
			t.emit(gen, printer.DeviceFailed{Err: ErrNotConnected})
			return
		}
		svcs, err := conn.DiscoverServices()
		if err != nil {
			t.emit(gen, printer.DeviceFailed{Err: err})
			return
		}

		found := make(map[string]Service, len(svcs))
		for _, s := range svcs {
			found[strings.ToLower(s.UUID())] = s
		}
		t.mu.Lock()
		if gen == t.gen {
			t.services = found
		}
		t.mu.Unlock()

		for _, s := range svcs {
			t.emit(gen, printer.ServiceFound{UUID: s.UUID()})
		}
		t.emit(gen, printer.ServiceDiscoveryFinished{})
	}()
}

// OpenService discovers the characteristics of a discovered service and
// reports ServiceReady.
func (t *Transport) OpenService(uuid string) {
	t.mu.Lock()
	gen, svc := t.gen, t.services[strings.ToLower(uuid)]
	t.mu.Unlock()

	go func() {
		if svc == nil {
			t.emit(gen, printer.DeviceFailed{Err: fmt.Errorf("ble: service %s not discovered", uuid)})
			return
		}
		chars, err := svc.DiscoverCharacteristics()
		if err != nil {
			t.emit(gen, printer.DeviceFailed{Err: err})
			return
		}

		found := make(map[string]Characteristic, len(chars))
		for _, c := range chars {
			found[strings.ToLower(c.UUID())] = c
		}
		t.mu.Lock()
		if gen == t.gen {
			t.chars = found
		}
		t.mu.Unlock()

		slog.Debug("[BLE] service ready", "service", uuid, "characteristics", len(chars))
		t.emit(gen, printer.ServiceReady{})
	}()
}

func (t *Transport) characteristic(uuid string) (Characteristic, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chars[strings.ToLower(uuid)]
	if !ok {
		return nil, t.gen, fmt.Errorf("ble: characteristic %s not found", uuid)
	}
	return c, t.gen, nil
}

// EnableNotifications subscribes to charUUID. Notifications arrive as
// CharacteristicChanged; the subscription itself reports DescriptorWritten.
func (t *Transport) EnableNotifications(charUUID string) {
	char, gen, err := t.characteristic(charUUID)
	go func() {
		if err != nil {
			t.emit(gen, printer.DescriptorWritten{Err: err})
			return
		}
		err := char.Subscribe(func(data []byte) {
			t.emit(gen, printer.CharacteristicChanged{UUID: charUUID, Value: bytes.Clone(data)})
		})
		if err != nil {
			err = fmt.Errorf("ble: enable notifications on %s: %w", charUUID, err)
		}
		t.emit(gen, printer.DescriptorWritten{Err: err})
	}()
}

// WriteCharacteristic writes a copy of data to charUUID and reports
// CharacteristicWritten.
func (t *Transport) WriteCharacteristic(charUUID string, data []byte) {
	char, gen, err := t.characteristic(charUUID)
	data = bytes.Clone(data)
	go func() {
		if err != nil {
			t.emit(gen, printer.CharacteristicWritten{Err: err})
			return
		}
		if err := char.Write(data); err != nil {
			t.emit(gen, printer.CharacteristicWritten{Err: fmt.Errorf("ble: write %s: %w", charUUID, err)})
			return
		}
		t.emit(gen, printer.CharacteristicWritten{})
	}()
}

// Disconnect drops the link. A connect still in progress is abandoned and
// reports Disconnected once it settles.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	gen, conn, cancel := t.gen, t.conn, t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	if conn == nil {
		return
	}

	go func() {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect failed", "error", err)
		}
		if t.markDown(gen) {
			slog.Info("[BLE] disconnected")
			t.emit(gen, printer.Disconnected{})
		}
	}()
}

// Release forgets the current device. Callbacks still in flight for it are
// discarded.
func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.linked = false
	t.conn = nil
	t.services = nil
	t.chars = nil
}
