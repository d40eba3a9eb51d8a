//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation, and memory-mapped streaming
// capture.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, resolutions, and framerates:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, f := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", f.PixelFormat)
//	    for _, res := range resolutions {
//	        framerates, _ := v4l2.GetFramerates("/dev/video0", f.PixelFormat, res.Width, res.Height)
//	    }
//	}
//
// # Streaming Capture
//
// Open a persistent device handle, negotiate a format, and run the
// memory-mapped buffer queue:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	dev.SetFormat(v4l2.PixFmtMJPEG, 1280, 720)
//	count, _ := dev.RequestBuffers(4)
//	for i := uint32(0); i < count; i++ {
//	    data, _ := dev.MapBuffer(i)
//	    dev.QueueBuffer(i)
//	    _ = data
//	}
//	dev.StreamOn()
//	info, _ := dev.DequeueBuffer(2 * time.Second)
//	// read the mapped buffer at info.Index up to info.BytesUsed, then:
//	dev.QueueBuffer(info.Index)
package v4l2
