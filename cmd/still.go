//go:build linux

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/camstream/camstream/internal/capture"
	"github.com/camstream/camstream/internal/devices"
	"github.com/camstream/camstream/internal/encode"
	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/internal/pipeline"
)

// stillAttempts bounds how many retryable capture or encode failures a
// one-shot grab tolerates before giving up.
const stillAttempts = 10

// CreateStillCmd creates the still command.
func CreateStillCmd() *cobra.Command {
	var output string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "still <device>",
		Short: "Grab a single frame as a planar YUV 4:2:0 image",
		Long: `Opens the device, captures one frame, and writes the raw I420 pixel ` +
			`data (width*height*1.5 bytes) to the output file. Cameras that only ` +
			`produce H264 cannot provide stills.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})
			logger := logging.GetLogger("main")

			if err := grabStill(args[0], output, logger); err != nil {
				logger.Error("Still capture failed", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "still.yuv", "Output file for the raw I420 image")
	cmd.Flags().StringVar(&logLevel, "logging-level", "warn", "Logging level (debug, info, warn, error)")

	return cmd
}

func grabStill(deviceID, output string, logger *slog.Logger) error {
	devicePath, err := devices.ResolveDevicePath(deviceID)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Options{
		DevicePath:     devicePath,
		MaxFPS:         30,
		DequeueTimeout: 2 * time.Second,
	})
	if err := p.Start(); err != nil {
		return err
	}
	defer func() { _ = p.Stop() }()

	still, err := nextStill(p)
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, still.Data, 0o644); err != nil {
		return fmt.Errorf("write still: %w", err)
	}
	logger.Info("Still captured", "device", devicePath, "width", still.Width, "height", still.Height, "file", output)
	fmt.Printf("%s: %dx%d I420, %d bytes\n", output, still.Width, still.Height, len(still.Data))
	return nil
}

func nextStill(p *pipeline.Pipeline) (*pipeline.StillImage, error) {
	var lastErr error
	for attempt := 0; attempt < stillAttempts; attempt++ {
		_, still, err := p.Next(true)
		switch {
		case still != nil:
			return still, nil
		case pipeline.IsCode(err, pipeline.ErrCodeStillUnavailable):
			return nil, fmt.Errorf("device delivers H264 directly, no decoded frames to snapshot: %w", err)
		case capture.IsCode(err, capture.ErrCodeCaptureTimeout),
			capture.IsCode(err, capture.ErrCodeCaptureError),
			encode.IsCode(err, encode.ErrCodeEncodeError):
			lastErr = err
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("no frame after %d attempts: %w", stillAttempts, lastErr)
}
