//go:build linux

package devices

import (
	"fmt"
	"os"
	"strings"

	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// ResolveDevicePath converts a device identifier to a usable device node.
// Plain paths pass through; stable IDs resolve through the /dev/v4l
// symlink trees, falling back to a full device scan.
func ResolveDevicePath(deviceID string) (string, error) {
	// If it's already a full path, use it directly
	if strings.HasPrefix(deviceID, "/dev/") {
		return deviceID, nil
	}

	// Try by-id first (for USB devices)
	if strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-id/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	// Try by-path (for platform devices and USB devices without by-id)
	if strings.HasPrefix(deviceID, "platform-") || strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-path/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	// Synthetic IDs don't have symlinks; match against the scanned list.
	if path, err := v4l2.GetDevicePathByID(deviceID); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no device found for ID: %s", deviceID)
}
