//go:build linux

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/camstream/camstream/internal/capture"
	"github.com/camstream/camstream/internal/config"
	"github.com/camstream/camstream/internal/devices"
	"github.com/camstream/camstream/internal/encode"
	"github.com/camstream/camstream/internal/events"
	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/internal/metrics/exporters"
	"github.com/camstream/camstream/internal/pipeline"
)

// streamOptions is the flat CLI/env/TOML option set for the stream
// command. Field names map to flag names, toml tags to config file keys.
type streamOptions struct {
	Config           string
	Output           string
	MaxFps           int    `toml:"stream.max_fps" env:"STREAM_MAX_FPS"`
	BufferCount      int    `toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	DequeueTimeoutMs int    `toml:"capture.dequeue_timeout_ms" env:"CAPTURE_DEQUEUE_TIMEOUT_MS"`
	MetricsAddr      string `toml:"metrics.addr" env:"METRICS_ADDR"`
	LoggingLevel     string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture   string `toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingPipeline  string `toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingEncode    string `toml:"logging.encode" env:"LOGGING_ENCODE"`
	LoggingDevices   string `toml:"logging.devices" env:"LOGGING_DEVICES"`
}

func (o *streamOptions) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"capture":  o.LoggingCapture,
			"pipeline": o.LoggingPipeline,
			"encode":   o.LoggingEncode,
			"devices":  o.LoggingDevices,
		},
	}
}

// CreateStreamCmd creates the stream command.
func CreateStreamCmd() *cobra.Command {
	opts := &streamOptions{}

	cmd := &cobra.Command{
		Use:   "stream <device>",
		Short: "Capture from a V4L2 device and emit an H264 elementary stream",
		Long: `Opens the given device (a /dev node or a stable ID from /dev/v4l/by-id), ` +
			`negotiates the best available format, encodes when the camera does not ` +
			`produce H264 natively, and writes Annex B access units to the output. ` +
			`Runs until interrupted or the device goes away.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := config.LoadConfig(opts, cmd); err != nil {
				slog.Warn("Failed to load config", "error", err)
			}
			logging.Initialize(opts.loggingConfig())
			logger := logging.GetLogger("main")

			if err := runStream(cmd.Context(), opts, args[0], logger); err != nil {
				logger.Error("Stream failed", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", "Output file for the H264 stream, - for stdout")
	cmd.Flags().IntVar(&opts.MaxFps, "max-fps", 30, "Cap delivery rate, dropping surplus frames")
	cmd.Flags().IntVar(&opts.BufferCount, "buffer-count", 4, "Number of kernel capture buffers to request")
	cmd.Flags().IntVar(&opts.DequeueTimeoutMs, "dequeue-timeout-ms", 2000, "Per-frame capture wait in milliseconds")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	cmd.Flags().StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
	cmd.Flags().StringVar(&opts.LoggingCapture, "logging-capture", "", "Capture logging level")
	cmd.Flags().StringVar(&opts.LoggingPipeline, "logging-pipeline", "", "Pipeline logging level")
	cmd.Flags().StringVar(&opts.LoggingEncode, "logging-encode", "", "Encode logging level")
	cmd.Flags().StringVar(&opts.LoggingDevices, "logging-devices", "", "Devices logging level")

	return cmd
}

func runStream(parent context.Context, opts *streamOptions, deviceID string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	devicePath, err := devices.ResolveDevicePath(deviceID)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(opts.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	bus := events.New()
	unsubscribe := bus.Subscribe(func(ev events.StreamErrorEvent) {
		if ev.Fatal {
			logger.Error("Stream error", "device", ev.DevicePath, "code", ev.Code, "error", ev.Error)
		}
	})
	defer unsubscribe()

	monitor := devices.NewMonitor(bus)
	if err := monitor.Start(ctx); err != nil {
		logger.Warn("Hotplug monitoring unavailable", "error", err)
	} else {
		defer monitor.Stop()
	}

	// Hot-reload log levels when the config file changes.
	watcher := config.NewConfigWatcher(
		opts.Config,
		func(path string) (logging.Config, error) {
			return config.LoadLoggingConfig(path), nil
		},
		logger,
		config.WithDebounce[logging.Config](1500*time.Millisecond),
	)
	watcher.OnReload(func(cfg logging.Config) {
		logger.Info("Reloading logging configuration")
		logging.Initialize(cfg)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	p := pipeline.New(pipeline.Options{
		DevicePath:     devicePath,
		MaxFPS:         float64(opts.MaxFps),
		BufferCount:    uint32(opts.BufferCount),
		DequeueTimeout: time.Duration(opts.DequeueTimeoutMs) * time.Millisecond,
		Bus:            bus,
	})
	if err := p.Start(); err != nil {
		return err
	}
	logger.Info("Streaming", "device", devicePath, "format", p.Format().String(), "output", opts.Output)

	g, ctx := errgroup.WithContext(ctx)

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporters.HTTPHandler())
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", opts.MetricsAddr)
			if serveErr := srv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		defer func() { _ = p.Stop() }()
		return streamFrames(ctx, p, out, logger)
	})

	return g.Wait()
}

// streamFrames pumps access units from the pipeline to out until the
// context ends or the pipeline closes. Retryable capture and encode
// failures skip the frame; anything else is fatal.
func streamFrames(ctx context.Context, p *pipeline.Pipeline, out io.Writer, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		default:
		}

		frame, _, err := p.Next(false)
		switch {
		case err == nil:
		case pipeline.IsCode(err, pipeline.ErrCodeStreamClosed):
			logger.Info("Stream closed")
			return nil
		case capture.IsCode(err, capture.ErrCodeCaptureTimeout):
			logger.Warn("Capture timed out, retrying")
			continue
		case capture.IsCode(err, capture.ErrCodeCaptureError),
			encode.IsCode(err, encode.ErrCodeEncodeError):
			logger.Warn("Dropping frame", "error", err)
			continue
		default:
			return err
		}

		if _, err := out.Write(frame.Data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
