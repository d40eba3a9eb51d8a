//go:build linux

package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/camstream/camstream/internal/capture"
	"github.com/camstream/camstream/internal/encode"
	"github.com/camstream/camstream/internal/events"
	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// fakeSource simulates a camera producing frames on a fixed schedule.
type fakeSource struct {
	interval time.Duration
	nextAt   time.Time
	seq      uint32
	pixFmt   uint32
	width    uint32
	height   uint32
	nextErrs []error // returned by Next before any frame, one per call
}

// take waits for the next scheduled frame, or gives up after timeout.
func (f *fakeSource) take(timeout time.Duration) bool {
	if f.nextAt.IsZero() {
		f.nextAt = time.Now()
	}
	wait := time.Until(f.nextAt)
	if wait > timeout {
		time.Sleep(timeout)
		return false
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	f.nextAt = f.nextAt.Add(f.interval)
	f.seq++
	return true
}

func (f *fakeSource) Next() (*capture.RawFrame, error) {
	if len(f.nextErrs) > 0 {
		err := f.nextErrs[0]
		f.nextErrs = f.nextErrs[1:]
		return nil, err
	}
	if !f.take(time.Second) {
		return nil, &capture.Error{Code: capture.ErrCodeCaptureTimeout, Message: "no frame"}
	}

	var data []byte
	if f.pixFmt == v4l2.PixFmtH264 {
		data = []byte{0, 0, 0, 1, 0x65, byte(f.seq)}
	} else {
		data = make([]byte, f.width*f.height*2)
		for i := range data {
			data[i] = byte(f.seq)
		}
	}
	return &capture.RawFrame{
		PixelFormat: f.pixFmt,
		Width:       f.width,
		Height:      f.height,
		Data:        data,
		Sequence:    f.seq,
		Timestamp:   time.Now(),
	}, nil
}

func (f *fakeSource) Discard(timeout time.Duration) error {
	if !f.take(timeout) {
		return &capture.Error{Code: capture.ErrCodeCaptureTimeout, Message: "no frame"}
	}
	return nil
}

// fakeEncoder emits a marker access unit per input.
type fakeEncoder struct {
	calls    int
	closes   int
	nextErrs []error
}

func (f *fakeEncoder) Encode(img *encode.I420Image) ([]byte, error) {
	if len(f.nextErrs) > 0 {
		err := f.nextErrs[0]
		f.nextErrs = f.nextErrs[1:]
		return nil, err
	}
	f.calls++
	return []byte{0, 0, 0, 1, 0x41, byte(f.calls)}, nil
}

func (f *fakeEncoder) Close() error {
	f.closes++
	return nil
}

func yuyvFormat(w, h uint32) capture.NegotiatedFormat {
	return capture.NegotiatedFormat{
		PixelFormat: v4l2.PixFmtYUYV,
		Width:       w,
		Height:      h,
		Interval:    v4l2.Framerate{Numerator: 1, Denominator: 30},
	}
}

// newStreamingPipeline wires fakes into a pipeline already in the
// streaming state, skipping device setup.
func newStreamingPipeline(opts Options, src frameSource, enc frameEncoder, format capture.NegotiatedFormat) (*Pipeline, *int) {
	if opts.DevicePath == "" {
		opts.DevicePath = "/dev/video-test"
	}
	p := New(opts)
	p.source = src
	p.encoder = enc
	p.format = format
	p.state = StateStreaming
	teardowns := 0
	p.teardown = func() { teardowns++ }
	return p, &teardowns
}

func TestNextDeliversEncodedFrames(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 8, height: 8}
	enc := &fakeEncoder{}
	p, _ := newStreamingPipeline(Options{}, src, enc, yuyvFormat(8, 8))
	defer p.Stop()

	var lastSeq uint32
	for i := 0; i < 5; i++ {
		frame, still, err := p.Next(false)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if still != nil {
			t.Fatal("got a still without asking for one")
		}
		if len(frame.Data) == 0 {
			t.Fatal("empty access unit")
		}
		if frame.Sequence <= lastSeq && i > 0 {
			t.Fatalf("sequence went backwards: %d after %d", frame.Sequence, lastSeq)
		}
		lastSeq = frame.Sequence
	}
	if enc.calls != 5 {
		t.Fatalf("encoder called %d times, want 5", enc.calls)
	}
}

func TestPacingCapsDeliveryRate(t *testing.T) {
	// Camera at ~500 fps, delivery capped at 20 fps.
	src := &fakeSource{interval: 2 * time.Millisecond, pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	enc := &fakeEncoder{}
	p, _ := newStreamingPipeline(Options{MaxFPS: 20}, src, enc, yuyvFormat(4, 4))
	defer p.Stop()

	// First frame is immediate.
	first, _, err := p.Next(false)
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	start := time.Now()
	const paced = 4
	var last *EncodedFrame
	for i := 0; i < paced; i++ {
		frame, _, err := p.Next(false)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		last = frame
	}
	elapsed := time.Since(start)

	// 4 paced deliveries at 50ms spacing take at least ~200ms. Allow one
	// interval of slack for scheduling.
	if minWant := paced*50*time.Millisecond - 50*time.Millisecond; elapsed < minWant {
		t.Fatalf("4 paced frames in %v, want at least %v", elapsed, minWant)
	}

	// The surplus frames were dropped, not queued: sequence numbers jump.
	if last.Sequence-first.Sequence <= paced {
		t.Fatalf("sequence advanced by %d over %d deliveries, expected drops",
			last.Sequence-first.Sequence, paced)
	}
}

func TestHighCapDeliversAtCameraRate(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	enc := &fakeEncoder{}
	p, _ := newStreamingPipeline(Options{MaxFPS: 1000}, src, enc, yuyvFormat(4, 4))
	defer p.Stop()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if _, _, err := p.Next(false); err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("10 frames under a 1000 fps cap took %v", elapsed)
	}
}

func TestStartRejectsNonPositiveMaxFPS(t *testing.T) {
	for _, fps := range []float64{0, -5} {
		p := New(Options{DevicePath: "/dev/video-test", MaxFPS: fps})
		err := p.Start()
		if !IsCode(err, ErrCodeInvalidConfig) {
			t.Fatalf("Start with max fps %g: error = %v, want %s", fps, err, ErrCodeInvalidConfig)
		}
		if p.State() != StateIdle {
			t.Fatalf("state after rejected Start = %s, want %s", p.State(), StateIdle)
		}
	}
}

func TestStillCapture(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 8, height: 6}
	enc := &fakeEncoder{}
	p, _ := newStreamingPipeline(Options{}, src, enc, yuyvFormat(8, 6))
	defer p.Stop()

	frame, still, err := p.Next(true)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame == nil {
		t.Fatal("no frame delivered alongside still")
	}
	if still == nil {
		t.Fatal("no still delivered")
	}
	if still.Width != 8 || still.Height != 6 {
		t.Fatalf("still is %dx%d, want 8x6", still.Width, still.Height)
	}
	if len(still.Data) != 8*6*3/2 {
		t.Fatalf("still is %d bytes, want %d", len(still.Data), 8*6*3/2)
	}
}

func TestPassthroughDeliversPayloadUnchanged(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtH264, width: 16, height: 16}
	format := capture.NegotiatedFormat{
		PixelFormat: v4l2.PixFmtH264,
		Width:       16,
		Height:      16,
		Interval:    v4l2.Framerate{Numerator: 1, Denominator: 30},
	}
	p, _ := newStreamingPipeline(Options{}, src, nil, format)
	defer p.Stop()

	frame, still, err := p.Next(false)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if still != nil {
		t.Fatal("unexpected still on passthrough stream")
	}
	if !bytes.HasPrefix(frame.Data, []byte{0, 0, 0, 1, 0x65}) {
		t.Fatalf("payload altered in passthrough: %v", frame.Data)
	}
}

func TestPassthroughStillUnavailable(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtH264, width: 16, height: 16}
	format := capture.NegotiatedFormat{
		PixelFormat: v4l2.PixFmtH264,
		Width:       16,
		Height:      16,
		Interval:    v4l2.Framerate{Numerator: 1, Denominator: 30},
	}
	p, _ := newStreamingPipeline(Options{}, src, nil, format)
	defer p.Stop()

	frame, still, err := p.Next(true)
	if !IsCode(err, ErrCodeStillUnavailable) {
		t.Fatalf("error = %v, want %s", err, ErrCodeStillUnavailable)
	}
	// The frame is delivered despite the still being unavailable.
	if frame == nil || len(frame.Data) == 0 {
		t.Fatal("frame not delivered alongside the still error")
	}
	if still != nil {
		t.Fatal("got a still that should not exist")
	}

	// The stream survives the refusal.
	if p.State() != StateStreaming {
		t.Fatalf("state = %s, want streaming", p.State())
	}
	if _, _, err := p.Next(false); err != nil {
		t.Fatalf("Next after still refusal failed: %v", err)
	}
}

func TestTimeoutIsRetryable(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	src.nextErrs = []error{
		&capture.Error{Code: capture.ErrCodeCaptureTimeout, Message: "no frame"},
	}
	enc := &fakeEncoder{}
	p, _ := newStreamingPipeline(Options{}, src, enc, yuyvFormat(4, 4))
	defer p.Stop()

	_, _, err := p.Next(false)
	if !capture.IsCode(err, capture.ErrCodeCaptureTimeout) {
		t.Fatalf("error = %v, want %s", err, capture.ErrCodeCaptureTimeout)
	}
	if p.State() != StateStreaming {
		t.Fatalf("state = %s after timeout, want streaming", p.State())
	}

	if _, _, err := p.Next(false); err != nil {
		t.Fatalf("Next after timeout failed: %v", err)
	}
}

func TestEncodeErrorIsRetryable(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	enc := &fakeEncoder{nextErrs: []error{
		&encode.Error{Code: encode.ErrCodeEncodeError, Message: "codec hiccup"},
	}}
	p, _ := newStreamingPipeline(Options{}, src, enc, yuyvFormat(4, 4))
	defer p.Stop()

	_, _, err := p.Next(false)
	if !encode.IsCode(err, encode.ErrCodeEncodeError) {
		t.Fatalf("error = %v, want %s", err, encode.ErrCodeEncodeError)
	}
	if p.State() != StateStreaming {
		t.Fatalf("state = %s after encode error, want streaming", p.State())
	}

	if _, _, err := p.Next(false); err != nil {
		t.Fatalf("Next after encode error failed: %v", err)
	}
}

func TestDeviceLossIsFatal(t *testing.T) {
	bus := events.New()
	errs := make(chan events.StreamErrorEvent, 1)
	unsub := bus.Subscribe(func(e events.StreamErrorEvent) {
		if e.Fatal {
			errs <- e
		}
	})
	defer unsub()

	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	src.nextErrs = []error{
		&capture.Error{Code: capture.ErrCodeDeviceUnavailable, Message: "device went away"},
	}
	enc := &fakeEncoder{}
	p, teardowns := newStreamingPipeline(Options{Bus: bus}, src, enc, yuyvFormat(4, 4))

	_, _, err := p.Next(false)
	if !capture.IsCode(err, capture.ErrCodeDeviceUnavailable) {
		t.Fatalf("error = %v, want %s", err, capture.ErrCodeDeviceUnavailable)
	}
	if p.State() != StateClosed {
		t.Fatalf("state = %s after device loss, want closed", p.State())
	}
	if *teardowns != 1 {
		t.Fatalf("teardown ran %d times, want 1", *teardowns)
	}
	if enc.closes != 1 {
		t.Fatalf("encoder closed %d times, want 1", enc.closes)
	}

	select {
	case ev := <-errs:
		if ev.Code != capture.ErrCodeDeviceUnavailable {
			t.Fatalf("event code = %s, want %s", ev.Code, capture.ErrCodeDeviceUnavailable)
		}
	case <-time.After(time.Second):
		t.Fatal("no fatal StreamErrorEvent published")
	}

	// Everything after the fatal error reports a closed stream.
	if _, _, err := p.Next(false); !IsCode(err, ErrCodeStreamClosed) {
		t.Fatalf("Next on closed pipeline = %v, want %s", err, ErrCodeStreamClosed)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop after fatal error failed: %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	src := &fakeSource{pixFmt: v4l2.PixFmtYUYV, width: 4, height: 4}
	enc := &fakeEncoder{}
	p, teardowns := newStreamingPipeline(Options{}, src, enc, yuyvFormat(4, 4))

	if _, _, err := p.Next(false); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}
	if *teardowns != 1 {
		t.Fatalf("teardown ran %d times, want 1", *teardowns)
	}
	if enc.closes != 1 {
		t.Fatalf("encoder closed %d times, want 1", enc.closes)
	}
	if p.State() != StateClosed {
		t.Fatalf("state = %s, want closed", p.State())
	}
}

func TestNextBeforeStart(t *testing.T) {
	p := New(Options{DevicePath: "/dev/video-test"})
	if _, _, err := p.Next(false); !IsCode(err, ErrCodeStreamClosed) {
		t.Fatalf("error = %v, want %s", err, ErrCodeStreamClosed)
	}
	if p.State() != StateIdle {
		t.Fatalf("state = %s, want idle", p.State())
	}
}

func TestStopFromIdle(t *testing.T) {
	p := New(Options{DevicePath: "/dev/video-test"})
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop from idle failed: %v", err)
	}
	if p.State() != StateClosed {
		t.Fatalf("state = %s, want closed", p.State())
	}
	if err := p.Start(); !IsCode(err, ErrCodeStreamClosed) {
		t.Fatalf("Start after Stop = %v, want %s", err, ErrCodeStreamClosed)
	}
}
