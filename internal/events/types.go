package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeStreamStarted uint32 = iota + 1
	TypeStreamStopped
	TypeStreamError
	TypeDeviceDiscovery
	TypeFramesDropped
	TypeStillCaptured
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamStartedEvent is published when a capture pipeline starts streaming.
type StreamStartedEvent struct {
	DevicePath string    `json:"device_path"`
	Format     string    `json:"format"`
	MaxFPS     float64   `json:"max_fps"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamStartedEvent.
func (e StreamStartedEvent) Type() uint32 { return TypeStreamStarted }

// StreamStoppedEvent is published when a pipeline stops, cleanly or not.
type StreamStoppedEvent struct {
	DevicePath string    `json:"device_path"`
	Frames     uint64    `json:"frames"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamStoppedEvent.
func (e StreamStoppedEvent) Type() uint32 { return TypeStreamStopped }

// StreamErrorEvent is published for capture and encode failures. Fatal
// errors are followed by a StreamStoppedEvent.
type StreamErrorEvent struct {
	DevicePath string    `json:"device_path"`
	Code       string    `json:"code"`
	Error      string    `json:"error"`
	Fatal      bool      `json:"fatal"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamErrorEvent.
func (e StreamErrorEvent) Type() uint32 { return TypeStreamError }

// DeviceDiscoveryEvent represents device hotplug events.
type DeviceDiscoveryEvent struct {
	DevicePath string    `json:"device_path"`
	DeviceName string    `json:"device_name"`
	DeviceID   string    `json:"device_id"`
	Action     string    `json:"action"` // added, removed
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// FramesDroppedEvent reports frames discarded by delivery pacing.
type FramesDroppedEvent struct {
	DevicePath string    `json:"device_path"`
	Dropped    uint64    `json:"dropped"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for FramesDroppedEvent.
func (e FramesDroppedEvent) Type() uint32 { return TypeFramesDropped }

// StillCapturedEvent is published when a still image is extracted from
// the stream.
type StillCapturedEvent struct {
	DevicePath string    `json:"device_path"`
	Width      uint32    `json:"width"`
	Height     uint32    `json:"height"`
	Size       int       `json:"size"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StillCapturedEvent.
func (e StillCapturedEvent) Type() uint32 { return TypeStillCaptured }
