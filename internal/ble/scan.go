package ble

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScanForDevices enables the adapter, scans for timeout and returns the
// devices whose advertised name starts with prefix. An empty prefix
// returns everything seen.
func ScanForDevices(adapter Adapter, timeout time.Duration, prefix string) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	var out []Device
	for _, d := range devices {
		if strings.HasPrefix(d.Name, prefix) {
			out = append(out, d)
		}
	}
	return out, nil
}
