//go:build linux

package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/camstream/camstream/internal/devices"
	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List V4L2 capture devices",
		Long: `Scans /dev/video* for devices with single-planar capture and streaming ` +
			`support. With --verbose, enumerates each device's pixel formats, ` +
			`resolutions, and frame rates.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			deviceList, err := devices.List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error finding devices: %v\n", err)
				os.Exit(1)
			}

			if len(deviceList) == 0 {
				fmt.Println("No V4L2 capture devices found.")
				return
			}

			for _, dev := range deviceList {
				fmt.Printf("%s\t%s\t%s\n", dev.DevicePath, dev.DeviceID, dev.DeviceName)
				if verbose {
					printFormats(dev.DevicePath)
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show supported formats, resolutions, and frame rates")

	return cmd
}

func printFormats(devicePath string) {
	formats, err := v4l2.GetFormats(devicePath)
	if err != nil {
		fmt.Printf("  (formats unavailable: %v)\n", err)
		return
	}

	for _, format := range formats {
		name := format.FormatName
		if name == "" {
			name = v4l2.FormatFourCC(format.PixelFormat)
		}
		fmt.Printf("  %s (%s)\n", name, v4l2.FormatFourCC(format.PixelFormat))

		resolutions, err := v4l2.GetResolutions(devicePath, format.PixelFormat)
		if err != nil {
			continue
		}
		// Largest first, matching negotiation order.
		sort.Slice(resolutions, func(i, j int) bool {
			return resolutions[i].Width*resolutions[i].Height > resolutions[j].Width*resolutions[j].Height
		})

		for _, res := range resolutions {
			rates, err := v4l2.GetFramerates(devicePath, format.PixelFormat, res.Width, res.Height)
			if err != nil || len(rates) == 0 {
				fmt.Printf("    %dx%d\n", res.Width, res.Height)
				continue
			}
			fmt.Printf("    %dx%d @", res.Width, res.Height)
			for _, rate := range rates {
				fmt.Printf(" %.4g", rate.FPS())
			}
			fmt.Println(" fps")
		}
	}
}
