//go:build linux

package capture

import (
	"log/slog"
	"time"
)

// RawFrame is a captured frame copied out of kernel memory. It stays valid
// indefinitely and carries the driver's capture timestamp and sequence
// counter.
type RawFrame struct {
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Data        []byte
	Sequence    uint32
	Timestamp   time.Time
}

// Source pulls frames from a buffer pool in strict capture order. Each
// frame is copied out and its buffer released before Next returns, so the
// pool never starves on a slow consumer.
type Source struct {
	pool    *Pool
	format  NegotiatedFormat
	timeout time.Duration
	logger  *slog.Logger
}

// NewSource wraps a started pool. timeout bounds each wait for a filled
// buffer; a camera that produces nothing within it reports
// ErrCodeCaptureTimeout.
func NewSource(pool *Pool, format NegotiatedFormat, timeout time.Duration, logger *slog.Logger) *Source {
	return &Source{
		pool:    pool,
		format:  format,
		timeout: timeout,
		logger:  logger,
	}
}

// Format returns the negotiated capture format frames are delivered in.
func (s *Source) Format() NegotiatedFormat { return s.format }

// Next returns the oldest filled frame. The payload is copied so the
// kernel buffer can be requeued immediately.
func (s *Source) Next() (*RawFrame, error) {
	buf, err := s.pool.Dequeue(s.timeout)
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)

	if err := s.pool.Release(buf.Index); err != nil {
		return nil, err
	}

	return &RawFrame{
		PixelFormat: s.format.PixelFormat,
		Width:       s.format.Width,
		Height:      s.format.Height,
		Data:        data,
		Sequence:    buf.Sequence,
		Timestamp:   buf.Timestamp,
	}, nil
}

// Discard drains the oldest filled frame without copying it, waiting at
// most timeout. Used to pace delivery below the camera's native rate.
func (s *Source) Discard(timeout time.Duration) error {
	buf, err := s.pool.Dequeue(timeout)
	if err != nil {
		return err
	}
	return s.pool.Release(buf.Index)
}
