//go:build linux

package devices

import "testing"

func TestResolveDevicePathPassthrough(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "device node", id: "/dev/video0", want: "/dev/video0"},
		{name: "nonstandard node", id: "/dev/v4l/by-id/usb-cam-video-index0", want: "/dev/v4l/by-id/usb-cam-video-index0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDevicePath(tt.id)
			if err != nil {
				t.Fatalf("ResolveDevicePath(%q) failed: %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("ResolveDevicePath(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestResolveDevicePathUnknownID(t *testing.T) {
	if _, err := ResolveDevicePath("usb-definitely-not-a-camera-video-index0"); err == nil {
		t.Fatal("expected an error for an unknown device ID")
	}
}
