// Command steadyscript runs the hand-tremor assessment server and its
// companion history CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MiFaceDEV/miface/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	verbose    bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "steadyscript",
		Short: "Real-time webcam hand-tremor assessment",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if verbose {
		fmt.Printf("camera: device=%d %dx%d@%dfps\n", cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
		fmt.Printf("tracking: pen=%s window=%d\n", cfg.Tracking.PenColor, cfg.Tracking.StabilityWindow)
		fmt.Printf("server: addr=%s sessions_file=%s led=%q\n", cfg.Server.Addr, cfg.Store.SessionsFile, cfg.Led.SerialPath)
	}
	return cfg, nil
}
