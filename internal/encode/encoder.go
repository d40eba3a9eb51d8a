package encode

import (
	"bytes"
	"log/slog"
	"math"

	"github.com/gen2brain/x264-go"
)

// Encoder turns planar 4:2:0 frames into H264 access units. It is tuned
// for zero latency, so every input frame yields exactly one access unit
// and nothing is buffered across calls. The stream headers (SPS and PPS)
// are prepended to the first access unit.
//
// An Encoder carries the codec's rate control and reference state, so it
// belongs to exactly one stream. It is not safe for concurrent use.
type Encoder struct {
	enc         *x264.Encoder
	buf         *bytes.Buffer
	headers     []byte
	headersSent bool
	logger      *slog.Logger
	closed      bool
}

// NewEncoder creates an encoder for the given geometry and nominal frame
// rate. fps below 1 is clamped; x264 only uses it for rate control.
func NewEncoder(width, height int, fps float64, logger *slog.Logger) (*Encoder, error) {
	frameRate := int(math.Round(fps))
	if frameRate < 1 {
		frameRate = 1
	}

	buf := &bytes.Buffer{}
	opts := &x264.Options{
		Width:     width,
		Height:    height,
		FrameRate: frameRate,
		Tune:      "zerolatency",
		Preset:    "ultrafast",
		Profile:   "baseline",
	}

	enc, err := x264.NewEncoder(buf, opts)
	if err != nil {
		return nil, newError(ErrCodeEncodeError, "failed to create H264 encoder", err)
	}

	// NewEncoder writes the stream headers into the sink immediately.
	headers := make([]byte, buf.Len())
	copy(headers, buf.Bytes())
	buf.Reset()

	logger.Debug("created H264 encoder",
		"width", width, "height", height, "fps", frameRate, "headers", len(headers))

	return &Encoder{
		enc:     enc,
		buf:     buf,
		headers: headers,
		logger:  logger,
	}, nil
}

// Encode produces the Annex B access unit for one frame. The first call
// includes the stream headers so the output is decodable from byte zero.
func (e *Encoder) Encode(img *I420Image) ([]byte, error) {
	if e.closed {
		return nil, newError(ErrCodeEncodeError, "encoder is closed", nil)
	}

	e.buf.Reset()
	if err := e.enc.Encode(img.YCbCr()); err != nil {
		return nil, newError(ErrCodeEncodeError, "failed to encode frame", err)
	}
	if e.buf.Len() == 0 {
		return nil, newError(ErrCodeEncodeError, "encoder produced no output for frame", nil)
	}

	var out []byte
	if !e.headersSent {
		e.headersSent = true
		out = make([]byte, 0, len(e.headers)+e.buf.Len())
		out = append(out, e.headers...)
	} else {
		out = make([]byte, 0, e.buf.Len())
	}
	return append(out, e.buf.Bytes()...), nil
}

// Close releases the codec context. Idempotent. Nothing is flushed;
// zero-latency tuning means no frames are ever in flight.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.enc.Close(); err != nil {
		return newError(ErrCodeEncodeError, "failed to close encoder", err)
	}
	return nil
}
