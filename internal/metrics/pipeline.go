// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "frames_captured_total",
		Help:      "Frames delivered by the capture device",
	}, []string{"device"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded by delivery pacing",
	}, []string{"device"})

	framesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "frames_encoded_total",
		Help:      "Access units produced by the encoder",
	}, []string{"device"})

	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "capture_errors_total",
		Help:      "Capture failures by error code",
	}, []string{"device", "code"})

	stillsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "stills_captured_total",
		Help:      "Still images extracted from the stream",
	}, []string{"device"})

	encodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "camstream",
		Subsystem: "pipeline",
		Name:      "encode_duration_seconds",
		Help:      "Wall time to encode one frame",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"device"})
)

// IncFramesCaptured counts a frame delivered by the device.
func IncFramesCaptured(device string) {
	framesCaptured.WithLabelValues(device).Inc()
}

// AddFramesDropped counts frames discarded by pacing.
func AddFramesDropped(device string, n float64) {
	framesDropped.WithLabelValues(device).Add(n)
}

// IncFramesEncoded counts a produced access unit.
func IncFramesEncoded(device string) {
	framesEncoded.WithLabelValues(device).Inc()
}

// IncCaptureErrors counts a capture failure by error code.
func IncCaptureErrors(device, code string) {
	captureErrors.WithLabelValues(device, code).Inc()
}

// IncStillsCaptured counts an extracted still image.
func IncStillsCaptured(device string) {
	stillsCaptured.WithLabelValues(device).Inc()
}

// ObserveEncodeDuration records the wall time of one encode.
func ObserveEncodeDuration(device string, seconds float64) {
	encodeDuration.WithLabelValues(device).Observe(seconds)
}

// DeletePipelineMetrics removes all metrics for a device after its
// pipeline closes.
func DeletePipelineMetrics(device string) {
	framesCaptured.DeleteLabelValues(device)
	framesDropped.DeleteLabelValues(device)
	framesEncoded.DeleteLabelValues(device)
	stillsCaptured.DeleteLabelValues(device)
	encodeDuration.DeleteLabelValues(device)
	captureErrors.DeletePartialMatch(prometheus.Labels{"device": device})
}
