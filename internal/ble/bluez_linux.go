//go:build linux

package ble

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus     = "org.bluez"
	adapterPath  = "/org/bluez/hci0"
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"
)

// checkAdapterPowered asks BlueZ whether hci0 is powered. tinygo's Enable
// succeeds on a powered-off controller and every scan then fails with an
// opaque D-Bus error, so this is checked up front. If BlueZ cannot be
// queried the check is skipped and Enable reports the real problem.
func checkAdapterPowered() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		slog.Debug("[BLE] system bus unavailable, skipping power check", "error", err)
		return nil
	}

	var v dbus.Variant
	obj := conn.Object(bluezBus, adapterPath)
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		slog.Debug("[BLE] could not read adapter power state", "error", err)
		return nil
	}
	return poweredFromVariant(v)
}

func poweredFromVariant(v dbus.Variant) error {
	powered, ok := v.Value().(bool)
	if !ok {
		return fmt.Errorf("ble: %s.Powered is %s, not bool", adapterIface, v.Signature())
	}
	if !powered {
		return ErrAdapterPowered
	}
	return nil
}
