//go:build linux

package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// formatPriority lists pixel formats in descending order of preference.
// Hardware-encoded H264 avoids the software encoder entirely, MJPEG is
// cheap to decode, and packed YUV is the raw fallback every UVC camera
// offers.
var formatPriority = []uint32{
	v4l2.PixFmtH264,
	v4l2.PixFmtMJPEG,
	v4l2.PixFmtJPEG,
	v4l2.PixFmtYUYV,
}

// NegotiatedFormat is the capture format settled with the driver at open
// time. It does not change for the lifetime of the handle.
type NegotiatedFormat struct {
	PixelFormat uint32
	Width       uint32
	Height      uint32
	SizeImage   uint32
	Interval    v4l2.Framerate
}

// IsH264 reports whether the device delivers hardware-encoded H264, in
// which case captured payloads pass through without software encoding.
func (f NegotiatedFormat) IsH264() bool {
	return f.PixelFormat == v4l2.PixFmtH264
}

// FPS returns the negotiated capture rate in frames per second.
func (f NegotiatedFormat) FPS() float64 {
	return f.Interval.FPS()
}

func (f NegotiatedFormat) String() string {
	return fmt.Sprintf("%s %dx%d @ %.2f fps",
		v4l2.FormatFourCC(f.PixelFormat), f.Width, f.Height, f.FPS())
}

// openDevices tracks paths with a live handle so a second open of the same
// camera fails fast instead of fighting the first one over REQBUFS.
var (
	openMu      sync.Mutex
	openDevices = make(map[string]struct{})
)

// DeviceHandle owns an open capture device with a fully negotiated format.
// It is not safe for concurrent use.
type DeviceHandle struct {
	dev    *v4l2.Device
	path   string
	format NegotiatedFormat
	logger *slog.Logger
	closed bool
}

// OpenDevice opens the camera at path and negotiates the best available
// format: the most preferred pixel format the device advertises, at its
// largest resolution and fastest frame interval. A path that already has a
// live handle in this process fails with ErrCodeDeviceBusy.
func OpenDevice(path string) (*DeviceHandle, error) {
	logger := logging.GetLogger("capture")

	openMu.Lock()
	if _, busy := openDevices[path]; busy {
		openMu.Unlock()
		return nil, newError(ErrCodeDeviceBusy,
			fmt.Sprintf("device %s is already open", path), nil)
	}
	openDevices[path] = struct{}{}
	openMu.Unlock()

	handle, err := openDevice(path, logger)
	if err != nil {
		openMu.Lock()
		delete(openDevices, path)
		openMu.Unlock()
		return nil, err
	}
	return handle, nil
}

func openDevice(path string, logger *slog.Logger) (*DeviceHandle, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, newError(ErrCodeDeviceUnavailable,
			fmt.Sprintf("failed to open device %s", path), err)
	}

	format, err := negotiateFormat(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	logger.Info("negotiated capture format",
		"device", path,
		"card", dev.Card(),
		"format", format.String())

	return &DeviceHandle{
		dev:    dev,
		path:   path,
		format: format,
		logger: logger,
	}, nil
}

// negotiateFormat walks the preference list and settles the first format
// the device can actually deliver. Drivers may adjust the requested
// geometry; a driver that swaps the pixel format out entirely is treated
// as not supporting it.
func negotiateFormat(dev *v4l2.Device) (NegotiatedFormat, error) {
	formats, err := dev.EnumFormats()
	if err != nil {
		return NegotiatedFormat{}, newError(ErrCodeDeviceUnavailable,
			"failed to enumerate device formats", err)
	}

	advertised := make(map[uint32]bool, len(formats))
	for _, f := range formats {
		advertised[f.PixelFormat] = true
	}

	for _, pixFmt := range formatPriority {
		if !advertised[pixFmt] {
			continue
		}

		res, err := bestResolution(dev, pixFmt)
		if err != nil {
			continue
		}

		accepted, err := dev.SetFormat(pixFmt, res.Width, res.Height)
		if err != nil || accepted.PixelFormat != pixFmt {
			continue
		}

		interval := bestInterval(dev, pixFmt, accepted.Width, accepted.Height)
		if err := dev.SetFrameInterval(interval); err != nil {
			return NegotiatedFormat{}, newError(ErrCodeDeviceUnavailable,
				"failed to set frame interval", err)
		}

		return NegotiatedFormat{
			PixelFormat: accepted.PixelFormat,
			Width:       accepted.Width,
			Height:      accepted.Height,
			SizeImage:   accepted.SizeImage,
			Interval:    interval,
		}, nil
	}

	return NegotiatedFormat{}, newError(ErrCodeNoSupportedFormat,
		fmt.Sprintf("device %s offers none of %s", dev.Path(), fourCCList(formatPriority)), nil)
}

// bestResolution returns the largest advertised frame size for a format.
func bestResolution(dev *v4l2.Device, pixFmt uint32) (v4l2.Resolution, error) {
	sizes, err := dev.EnumFrameSizes(pixFmt)
	if err != nil {
		return v4l2.Resolution{}, err
	}
	if len(sizes) == 0 {
		return v4l2.Resolution{}, fmt.Errorf("no frame sizes for %s", v4l2.FormatFourCC(pixFmt))
	}

	best := sizes[0]
	for _, s := range sizes[1:] {
		if uint64(s.Width)*uint64(s.Height) > uint64(best.Width)*uint64(best.Height) {
			best = s
		}
	}
	return best, nil
}

// bestInterval returns the fastest advertised frame interval, falling back
// to 30 fps when the driver does not enumerate intervals.
func bestInterval(dev *v4l2.Device, pixFmt, width, height uint32) v4l2.Framerate {
	intervals, err := dev.EnumFrameIntervals(pixFmt, width, height)
	if err != nil || len(intervals) == 0 {
		return v4l2.Framerate{Numerator: 1, Denominator: 30}
	}

	best := intervals[0]
	for _, ival := range intervals[1:] {
		if ival.FPS() > best.FPS() {
			best = ival
		}
	}
	return best
}

func fourCCList(formats []uint32) string {
	s := ""
	for i, f := range formats {
		if i > 0 {
			s += ", "
		}
		s += v4l2.FormatFourCC(f)
	}
	return s
}

// Path returns the device path the handle was opened with.
func (h *DeviceHandle) Path() string { return h.path }

// Format returns the format negotiated at open time.
func (h *DeviceHandle) Format() NegotiatedFormat { return h.format }

// Device exposes the underlying kernel handle for buffer management.
func (h *DeviceHandle) Device() *v4l2.Device { return h.dev }

// Close releases the device and its exclusive claim on the path. Idempotent.
func (h *DeviceHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	openMu.Lock()
	delete(openDevices, h.path)
	openMu.Unlock()

	return h.dev.Close()
}
