//go:build !linux

package ble

// checkAdapterPowered is a no-op outside BlueZ; CoreBluetooth and WinRT
// report a powered-off radio from Enable.
func checkAdapterPowered() error {
	return nil
}
