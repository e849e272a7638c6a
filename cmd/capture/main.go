// Command capture records food samples on a driver's device and syncs
// them to the central database when an allowed network is available.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/config"
	"github.com/microsearch/drivercapture/internal/logging"
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

var (
	cfg  *config.Config
	sink *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "capture",
	Short: "Offline-first sample capture and sync",
	Long: `Capture food samples on the road and sync them to the central database.

Samples are stored on the device first and numbered per day. They are sent
only over an allowed WiFi network or a trusted wired link, and a sample is
never lost or duplicated however often a sync is interrupted.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Annotations[skipConfig] == "true" {
			return
		}

		file, _ := cmd.Flags().GetString("config")
		envFile, _ := cmd.Flags().GetString("env-file")

		loaded, err := config.Load(config.Options{File: file, EnvFile: envFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		sink = logging.NewSink(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sink != nil {
			_ = sink.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./capture.toml or ~/.capture/capture.toml)")
	rootCmd.PersistentFlags().String("env-file", "", "Dotenv file with credentials (default: ./.env if present)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "samples", Title: "Samples:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// exitf prints an error and exits.
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// requireValid exits when the loaded configuration is incomplete.
func requireValid() {
	if err := cfg.Validate(); err != nil {
		exitf("%v", err)
	}
}
