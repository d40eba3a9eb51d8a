//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

// Errors reported by the streaming capture path.
var (
	ErrNotCaptureDevice = errors.New("device does not support video capture")
	ErrNotStreaming     = errors.New("device does not support streaming I/O")
	ErrTimeout          = errors.New("timed out waiting for a filled buffer")
	ErrBufferError      = errors.New("driver reported a capture fault on the buffer")
)

// Device is a persistent handle to an open V4L2 capture device.
// It is not safe for concurrent use; callers serialize access.
type Device struct {
	fd     int
	path   string
	card   string
	driver string
	caps   uint32
	closed bool
}

// Open opens a V4L2 capture device and queries its capabilities.
func Open(path string) (*Device, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", path, err)
	}

	cap := v4l2_capability{}
	if err := ioctl(fd, VIDIOC_QUERYCAP, unsafe.Pointer(&cap)); err != nil {
		closeFd(fd)
		return nil, fmt.Errorf("failed to query device capabilities: %w", err)
	}

	// Get the effective capabilities
	caps := cap.capabilities
	if caps&CapDeviceCaps != 0 {
		caps = cap.device_caps
	}

	if caps&CapVideoCapture == 0 {
		closeFd(fd)
		return nil, ErrNotCaptureDevice
	}
	if caps&CapStreaming == 0 {
		closeFd(fd)
		return nil, ErrNotStreaming
	}

	return &Device{
		fd:     fd,
		path:   path,
		card:   cstr(cap.card[:]),
		driver: cstr(cap.driver[:]),
		caps:   caps,
	}, nil
}

// Path returns the device path the handle was opened with.
func (d *Device) Path() string { return d.path }

// Card returns the device's card name as reported by QUERYCAP.
func (d *Device) Card() string { return d.card }

// Close releases the underlying file descriptor. Idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return closeFd(d.fd)
}

// EnumFormats returns the pixel formats the device advertises for capture.
func (d *Device) EnumFormats() ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2_fmtdesc{
			index: i,
			typ:   V4L2_BUF_TYPE_VIDEO_CAPTURE,
		}

		if ioctlErr := ioctl(d.fd, VIDIOC_ENUM_FMT, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, ioctlErr)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&FmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// EnumFrameSizes returns the resolutions the device advertises for a format.
func (d *Device) EnumFrameSizes(pixelFormat uint32) ([]Resolution, error) {
	var resolutions []Resolution

	for i := uint32(0); ; i++ {
		frmsize := v4l2_frmsizeenum{
			index:        i,
			pixel_format: pixelFormat,
		}

		if ioctlErr := ioctl(d.fd, VIDIOC_ENUM_FRAMESIZES, unsafe.Pointer(&frmsize)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(ioctlErr, syscall.ENOTTY) {
				return []Resolution{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, ioctlErr)
		}

		switch frmsize.typ {
		case V4L2_FRMSIZE_TYPE_DISCRETE:
			resolutions = append(resolutions, Resolution{
				Width:  frmsize.discrete.width,
				Height: frmsize.discrete.height,
			})
		case V4L2_FRMSIZE_TYPE_CONTINUOUS, V4L2_FRMSIZE_TYPE_STEPWISE:
			// For stepwise/continuous, return common resolutions within the range
			resolutions = append(resolutions, stepwiseResolutions(&frmsize)...)
			return resolutions, nil // Only one stepwise entry
		}
	}

	return resolutions, nil
}

// EnumFrameIntervals returns the frame intervals the device advertises for a
// format and resolution.
func (d *Device) EnumFrameIntervals(pixelFormat, width, height uint32) ([]Framerate, error) {
	var framerates []Framerate

	for i := uint32(0); ; i++ {
		frmival := v4l2_frmivalenum{
			index:        i,
			pixel_format: pixelFormat,
			width:        width,
			height:       height,
		}

		if ioctlErr := ioctl(d.fd, VIDIOC_ENUM_FRAMEINTERVALS, unsafe.Pointer(&frmival)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			if errors.Is(ioctlErr, syscall.ENOTTY) {
				return commonFramerates(), nil
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, ioctlErr)
		}

		switch frmival.typ {
		case V4L2_FRMIVAL_TYPE_DISCRETE:
			framerates = append(framerates, Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			})
		case V4L2_FRMIVAL_TYPE_CONTINUOUS, V4L2_FRMIVAL_TYPE_STEPWISE:
			// For stepwise/continuous, return common framerates
			framerates = append(framerates, commonFramerates()...)
			return framerates, nil
		}
	}

	return framerates, nil
}

// SetFormat negotiates the capture format. The driver may adjust the
// requested geometry, so the accepted format is returned.
func (d *Device) SetFormat(pixelFormat, width, height uint32) (Format, error) {
	f := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = V4L2_FIELD_NONE

	if err := ioctl(d.fd, VIDIOC_S_FMT, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to set format %s %dx%d: %w",
			FormatFourCC(pixelFormat), width, height, err)
	}

	return Format{
		PixelFormat:  f.pix.pixelformat,
		Width:        f.pix.width,
		Height:       f.pix.height,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

// GetFormat returns the device's current capture format.
func (d *Device) GetFormat() (Format, error) {
	f := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	if err := ioctl(d.fd, VIDIOC_G_FMT, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to get format: %w", err)
	}
	return Format{
		PixelFormat:  f.pix.pixelformat,
		Width:        f.pix.width,
		Height:       f.pix.height,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

// SetFrameInterval requests a capture frame interval (seconds per frame).
// Drivers that do not support V4L2_CAP_TIMEPERFRAME ignore the request,
// which is reported as a nil error since capture still proceeds.
func (d *Device) SetFrameInterval(interval Framerate) error {
	parm := v4l2_streamparm{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	parm.capture.timeperframe = v4l2_fract{
		numerator:   interval.Numerator,
		denominator: interval.Denominator,
	}

	if err := ioctl(d.fd, VIDIOC_S_PARM, unsafe.Pointer(&parm)); err != nil {
		if errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return fmt.Errorf("failed to set frame interval: %w", err)
	}
	return nil
}

// RequestBuffers asks the driver for count memory-mapped capture buffers.
// The driver decides the actual count, which is returned.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	req := v4l2_requestbuffers{
		count:  count,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}

	if err := ioctl(d.fd, VIDIOC_REQBUFS, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("failed to request %d buffers: %w", count, err)
	}

	return req.count, nil
}

// MapBuffer queries a buffer's offset and length and memory-maps it into the
// process. The returned slice stays valid until UnmapBuffer.
func (d *Device) MapBuffer(index uint32) ([]byte, error) {
	buf := v4l2_buffer{
		index:  index,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}

	if err := ioctl(d.fd, VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("failed to query buffer %d: %w", index, err)
	}

	data, err := syscall.Mmap(d.fd, int64(buf.offset), int(buf.length),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map buffer %d: %w", index, err)
	}

	return data, nil
}

// UnmapBuffer releases a mapping created by MapBuffer.
func (d *Device) UnmapBuffer(data []byte) error {
	return syscall.Munmap(data)
}

// QueueBuffer hands a buffer slot back to the driver for filling.
func (d *Device) QueueBuffer(index uint32) error {
	buf := v4l2_buffer{
		index:  index,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}

	if err := ioctlRetry(d.fd, VIDIOC_QBUF, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to queue buffer %d: %w", index, err)
	}
	return nil
}

// DequeueBuffer blocks until the driver fills a buffer or the timeout
// elapses. The fd is non-blocking, so readiness is awaited with select(2)
// and EAGAIN after a wakeup is retried against the remaining time.
func (d *Device) DequeueBuffer(timeout time.Duration) (BufferInfo, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return BufferInfo{}, ErrTimeout
		}

		var readFds syscall.FdSet
		readFds.Bits[d.fd/64] |= 1 << (uint(d.fd) % 64)

		n, err := syscall.Select(d.fd+1, &readFds, nil, nil, makeTimeval(int(remaining.Milliseconds())+1))
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return BufferInfo{}, fmt.Errorf("select failed: %w", err)
		}
		if n == 0 {
			return BufferInfo{}, ErrTimeout
		}

		buf := v4l2_buffer{
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}

		err = ioctlRetry(d.fd, VIDIOC_DQBUF, unsafe.Pointer(&buf))
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) {
				continue // Spurious wakeup, wait again
			}
			return BufferInfo{}, fmt.Errorf("failed to dequeue buffer: %w", err)
		}

		info := BufferInfo{
			Index:     buf.index,
			BytesUsed: buf.bytesused,
			Sequence:  buf.sequence,
			Timestamp: timevalToTime(buf.timestamp),
			Flags:     buf.flags,
		}

		if buf.flags&BufFlagError != 0 {
			// The slot is back with the caller; it must be requeued, but its
			// contents are unusable.
			return info, ErrBufferError
		}

		return info, nil
	}
}

// StreamOn starts the capture stream.
func (d *Device) StreamOn() error {
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := ioctl(d.fd, VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// StreamOff stops the capture stream and implicitly dequeues all buffers.
func (d *Device) StreamOff() error {
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := ioctl(d.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}
