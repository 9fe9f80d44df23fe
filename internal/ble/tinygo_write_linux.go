//go:build linux

package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	gattCharIface      = "org.bluez.GattCharacteristic1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// busObjects is the part of *dbus.Conn used to reach BlueZ objects.
type busObjects interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Write sends data with a write request and waits for the response.
// tinygo only offers write-without-response on Linux, so the request is
// made on the characteristic's BlueZ object.
func (c *tinygoCharacteristic) Write(data []byte) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("ble: connect to system bus: %w", err)
	}
	return c.writeOn(conn, c.UUID(), data)
}

func (c *tinygoCharacteristic) writeOn(bus busObjects, uuid string, data []byte) error {
	path, err := c.objectPath(bus, uuid)
	if err != nil {
		return err
	}
	return writeRequest(bus.Object(bluezBus, path), data)
}

// objectPath finds the characteristic's BlueZ object under its device and
// remembers it.
func (c *tinygoCharacteristic) objectPath(bus busObjects, uuid string) (dbus.ObjectPath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return dbus.ObjectPath(c.path), nil
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := bus.Object(bluezBus, "/").Call(objectManagerIface+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return "", fmt.Errorf("ble: list bluez objects: %w", err)
	}

	path, ok := findCharacteristicPath(objects, c.address, uuid)
	if !ok {
		return "", fmt.Errorf("ble: characteristic %s of %s not known to bluez", uuid, c.address)
	}
	c.path = string(path)
	return path, nil
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(address string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(adapterPath + "/dev_" + escaped)
}

func findCharacteristicPath(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, address, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(deviceObjectPath(address)) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[gattCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if s, ok := v.Value().(string); ok && strings.EqualFold(s, uuid) {
			return path, true
		}
	}
	return "", false
}

// writeRequest performs an acknowledged GATT write; BlueZ replies once the
// peripheral has answered.
func writeRequest(obj dbus.BusObject, data []byte) error {
	call := obj.Call(gattCharIface+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
	if call.Err != nil {
		return fmt.Errorf("ble: write %s: %w", obj.Path(), call.Err)
	}
	return nil
}
