//go:build !linux

package ble

// Write sends data with a write request and waits for the response.
func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
