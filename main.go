//go:build linux

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/camstream/camstream/cmd"
	"github.com/camstream/camstream/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:          "camstream",
		Short:        "V4L2 capture and H264 streaming tool",
		Version:      version.String(),
		SilenceUsage: true,
	}

	root.AddCommand(
		cmd.CreateListCmd(),
		cmd.CreateStreamCmd(),
		cmd.CreateStillCmd(),
		cmd.CreateVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
