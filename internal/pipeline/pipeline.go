//go:build linux

// Package pipeline couples a capture device to an H264 encoder and hands
// out one encoded frame per call, paced to a caller-chosen maximum rate.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/camstream/camstream/internal/capture"
	"github.com/camstream/camstream/internal/encode"
	"github.com/camstream/camstream/internal/events"
	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/internal/metrics"
	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// State is the pipeline lifecycle state.
type State int

const (
	// StateIdle: created, device not yet opened.
	StateIdle State = iota
	// StateStreaming: device open, buffers flowing.
	StateStreaming
	// StateClosed: stopped or failed fatally. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EncodedFrame is one H264 access unit in Annex B byte order.
type EncodedFrame struct {
	Data      []byte
	Sequence  uint32
	Timestamp time.Time
}

// StillImage is a planar YUV 4:2:0 snapshot of a delivered frame. Data is
// Width*Height*3/2 bytes.
type StillImage struct {
	Width  uint32
	Height uint32
	Data   []byte
}

// Options configures a pipeline.
type Options struct {
	// DevicePath is the V4L2 device node, e.g. /dev/video0.
	DevicePath string
	// MaxFPS caps the delivery rate. Frames the camera produces above
	// the cap are discarded, never queued. Must be positive; Start
	// rejects anything else.
	MaxFPS float64
	// BufferCount is the number of kernel buffers to request. Default 4.
	BufferCount uint32
	// DequeueTimeout bounds each wait for a frame. Default 2s.
	DequeueTimeout time.Duration
	// Bus receives stream lifecycle events when set.
	Bus *events.Bus
}

const (
	defaultBufferCount    = 4
	defaultDequeueTimeout = 2 * time.Second
)

// frameSource is the capture surface the pipeline consumes.
// *capture.Source satisfies it; tests substitute a fake.
type frameSource interface {
	Next() (*capture.RawFrame, error)
	Discard(timeout time.Duration) error
}

// frameEncoder is the encoding surface. *encode.Encoder satisfies it.
type frameEncoder interface {
	Encode(img *encode.I420Image) ([]byte, error)
	Close() error
}

// Pipeline owns a streaming capture device and its encoder context. It is
// not safe for concurrent use; callers serialize Next and Stop.
type Pipeline struct {
	opts   Options
	state  State
	logger *slog.Logger

	source  frameSource
	encoder frameEncoder // nil when the device delivers H264 directly
	format  capture.NegotiatedFormat

	minInterval   time.Duration
	lastDelivered time.Time
	delivered     uint64

	// teardown releases device resources. Set by Start, replaced by
	// tests.
	teardown func()
}

// New creates an idle pipeline. The device is not touched until Start.
func New(opts Options) *Pipeline {
	if opts.BufferCount == 0 {
		opts.BufferCount = defaultBufferCount
	}
	if opts.DequeueTimeout == 0 {
		opts.DequeueTimeout = defaultDequeueTimeout
	}

	var minInterval time.Duration
	if opts.MaxFPS > 0 {
		minInterval = time.Duration(float64(time.Second) / opts.MaxFPS)
	}

	return &Pipeline{
		opts:        opts,
		state:       StateIdle,
		logger:      logging.GetLogger("pipeline").With("device", opts.DevicePath),
		minInterval: minInterval,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return p.state }

// Format returns the negotiated capture format. Valid after Start.
func (p *Pipeline) Format() capture.NegotiatedFormat { return p.format }

// Start opens the device, negotiates the format, maps and queues the
// buffer pool, and starts the kernel stream. On any failure everything
// already acquired is released and the pipeline stays idle.
func (p *Pipeline) Start() error {
	if p.state != StateIdle {
		return newError(ErrCodeStreamClosed,
			fmt.Sprintf("cannot start pipeline in state %s", p.state), nil)
	}
	if p.opts.MaxFPS <= 0 {
		return newError(ErrCodeInvalidConfig,
			fmt.Sprintf("max fps must be positive, got %g", p.opts.MaxFPS), nil)
	}

	handle, err := capture.OpenDevice(p.opts.DevicePath)
	if err != nil {
		return err
	}
	format := handle.Format()

	pool, err := capture.NewPool(handle.Device(), p.opts.BufferCount, p.logger)
	if err != nil {
		handle.Close()
		return err
	}
	if err := pool.QueueAll(); err != nil {
		pool.Close()
		handle.Close()
		return err
	}
	if err := handle.Device().StreamOn(); err != nil {
		pool.Close()
		handle.Close()
		return newError(ErrCodeStreamClosed, "failed to start kernel stream",
			fmt.Errorf("%s: %w", v4l2.FormatFourCC(format.PixelFormat), err))
	}

	var enc frameEncoder
	if !format.IsH264() {
		e, err := encode.NewEncoder(int(format.Width), int(format.Height), format.FPS(), p.logger)
		if err != nil {
			handle.Device().StreamOff()
			pool.Close()
			handle.Close()
			return err
		}
		enc = e
	}

	p.source = capture.NewSource(pool, format, p.opts.DequeueTimeout, p.logger)
	p.encoder = enc
	p.format = format
	p.teardown = func() {
		if err := handle.Device().StreamOff(); err != nil {
			p.logger.Warn("failed to stop kernel stream", "error", err)
		}
		if err := pool.Close(); err != nil {
			p.logger.Warn("failed to release buffer pool", "error", err)
		}
		if err := handle.Close(); err != nil {
			p.logger.Warn("failed to close device", "error", err)
		}
	}
	p.state = StateStreaming

	p.logger.Info("pipeline streaming",
		"format", format.String(), "max_fps", p.opts.MaxFPS, "buffers", pool.Size())
	p.publish(events.StreamStartedEvent{
		DevicePath: p.opts.DevicePath,
		Format:     format.String(),
		MaxFPS:     p.opts.MaxFPS,
		Timestamp:  time.Now(),
	})

	return nil
}

// Next delivers the next encoded frame, discarding camera output as
// needed to honor MaxFPS. With captureStill set, the delivered frame's
// raw form is returned alongside as a 4:2:0 still; devices that stream
// H264 directly have no raw form, so the frame arrives together with an
// ErrCodeStillUnavailable error.
//
// Timeout and encode failures are retryable: the pipeline stays
// streaming and the next call continues with the following frame. Device
// loss is fatal and closes the pipeline.
func (p *Pipeline) Next(captureStill bool) (*EncodedFrame, *StillImage, error) {
	if p.state != StateStreaming {
		return nil, nil, newError(ErrCodeStreamClosed,
			fmt.Sprintf("pipeline is %s", p.state), nil)
	}

	if err := p.pace(); err != nil {
		return nil, nil, err
	}

	raw, err := p.source.Next()
	if err != nil {
		return nil, nil, p.captureFailed(err)
	}
	metrics.IncFramesCaptured(p.opts.DevicePath)

	frame, still, err := p.process(raw, captureStill)
	if err != nil && frame == nil {
		return nil, nil, err
	}

	p.lastDelivered = time.Now()
	p.delivered++
	return frame, still, err
}

// pace discards frames until the minimum delivery interval has elapsed.
// The camera keeps its native rate; the surplus never reaches the caller.
func (p *Pipeline) pace() error {
	if p.minInterval == 0 || p.lastDelivered.IsZero() {
		return nil
	}

	deadline := p.lastDelivered.Add(p.minInterval)
	var dropped uint64
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		err := p.source.Discard(remaining)
		if err == nil {
			dropped++
			continue
		}
		if capture.IsCode(err, capture.ErrCodeCaptureTimeout) {
			// Deadline reached while waiting; nothing left to drop.
			break
		}
		if capture.IsCode(err, capture.ErrCodeCaptureError) {
			metrics.IncCaptureErrors(p.opts.DevicePath, capture.ErrCodeCaptureError)
			continue
		}
		return p.captureFailed(err)
	}

	if dropped > 0 {
		metrics.AddFramesDropped(p.opts.DevicePath, float64(dropped))
		p.publish(events.FramesDroppedEvent{
			DevicePath: p.opts.DevicePath,
			Dropped:    dropped,
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// process turns a raw frame into an access unit and optional still.
func (p *Pipeline) process(raw *capture.RawFrame, captureStill bool) (*EncodedFrame, *StillImage, error) {
	if p.format.IsH264() {
		frame := &EncodedFrame{
			Data:      raw.Data,
			Sequence:  raw.Sequence,
			Timestamp: raw.Timestamp,
		}
		if captureStill {
			return frame, nil, newError(ErrCodeStillUnavailable,
				"stream is hardware H264, no raw frame to snapshot", nil)
		}
		return frame, nil, nil
	}

	img, err := p.decode(raw)
	if err != nil {
		metrics.IncCaptureErrors(p.opts.DevicePath, encode.ErrCodeEncodeError)
		p.publishError(err, false)
		return nil, nil, err
	}

	start := time.Now()
	data, err := p.encoder.Encode(img)
	if err != nil {
		metrics.IncCaptureErrors(p.opts.DevicePath, encode.ErrCodeEncodeError)
		p.publishError(err, false)
		return nil, nil, err
	}
	metrics.ObserveEncodeDuration(p.opts.DevicePath, time.Since(start).Seconds())
	metrics.IncFramesEncoded(p.opts.DevicePath)

	frame := &EncodedFrame{
		Data:      data,
		Sequence:  raw.Sequence,
		Timestamp: raw.Timestamp,
	}

	var still *StillImage
	if captureStill {
		still = &StillImage{
			Width:  p.format.Width,
			Height: p.format.Height,
			Data:   img.Bytes(),
		}
		metrics.IncStillsCaptured(p.opts.DevicePath)
		p.publish(events.StillCapturedEvent{
			DevicePath: p.opts.DevicePath,
			Width:      still.Width,
			Height:     still.Height,
			Size:       len(still.Data),
			Timestamp:  time.Now(),
		})
	}
	return frame, still, nil
}

// decode converts the raw payload to planar 4:2:0.
func (p *Pipeline) decode(raw *capture.RawFrame) (*encode.I420Image, error) {
	switch raw.PixelFormat {
	case v4l2.PixFmtYUYV:
		return encode.FromYUYV(int(raw.Width), int(raw.Height), raw.Data)
	case v4l2.PixFmtMJPEG, v4l2.PixFmtJPEG:
		return encode.FromJPEG(raw.Data)
	default:
		return nil, &encode.Error{
			Code:    encode.ErrCodeEncodeError,
			Message: fmt.Sprintf("no decoder for %s", v4l2.FormatFourCC(raw.PixelFormat)),
		}
	}
}

// captureFailed classifies a capture error. Timeouts and transient
// capture faults keep the pipeline streaming; losing the device is fatal
// and closes it.
func (p *Pipeline) captureFailed(err error) error {
	code := capture.CodeOf(err)
	metrics.IncCaptureErrors(p.opts.DevicePath, code)

	switch code {
	case capture.ErrCodeCaptureTimeout:
		p.logger.Warn("capture timed out", "error", err)
		p.publishError(err, false)
		return err
	case capture.ErrCodeCaptureError:
		p.logger.Warn("transient capture fault", "error", err)
		p.publishError(err, false)
		return err
	default:
		p.logger.Error("fatal capture failure", "error", err)
		p.publishError(err, true)
		p.close()
		return err
	}
}

// Stop ends the stream and releases the device. Safe to call from any
// state and more than once.
func (p *Pipeline) Stop() error {
	if p.state == StateClosed {
		return nil
	}
	wasStreaming := p.state == StateStreaming
	p.close()
	if wasStreaming {
		p.logger.Info("pipeline stopped", "frames_delivered", p.delivered)
	}
	return nil
}

func (p *Pipeline) close() {
	if p.state == StateClosed {
		return
	}
	streaming := p.state == StateStreaming
	p.state = StateClosed

	if p.encoder != nil {
		if err := p.encoder.Close(); err != nil {
			p.logger.Warn("failed to close encoder", "error", err)
		}
	}
	if p.teardown != nil {
		p.teardown()
	}

	if streaming {
		p.publish(events.StreamStoppedEvent{
			DevicePath: p.opts.DevicePath,
			Frames:     p.delivered,
			Timestamp:  time.Now(),
		})
	}
	metrics.DeletePipelineMetrics(p.opts.DevicePath)
}

func (p *Pipeline) publish(ev events.Event) {
	if p.opts.Bus != nil {
		p.opts.Bus.Publish(ev)
	}
}

func (p *Pipeline) publishError(err error, fatal bool) {
	code := capture.CodeOf(err)
	if code == "" {
		code = encode.ErrCodeEncodeError
	}
	p.publish(events.StreamErrorEvent{
		DevicePath: p.opts.DevicePath,
		Code:       code,
		Error:      err.Error(),
		Fatal:      fatal,
		Timestamp:  time.Now(),
	})
}
