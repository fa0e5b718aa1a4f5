package providers

import (
	"os"
	"strings"
)

// VisibleDevicesEnv lists the accelerator devices this process may use.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// VisibleDevices returns the device identifiers listed in CUDA_VISIBLE_DEVICES. When
// the variable is absent a single device "0" is assumed.
//
// Returns:
//   - []string: The device identifiers, in order.
func VisibleDevices() []string {
	v, ok := os.LookupEnv(VisibleDevicesEnv)
	if !ok {
		v = "0"
	}
	return ParseDevices(v)
}

// ParseDevices splits a comma-separated device list. Every comma-separated field counts
// as one device, so an empty string is one (unnamed) device.
func ParseDevices(v string) []string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// DeviceCount returns the number of visible devices.
func DeviceCount() int {
	return len(VisibleDevices())
}
