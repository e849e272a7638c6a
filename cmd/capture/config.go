package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/config"
	"github.com/microsearch/drivercapture/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default capture.toml",
	Long: `Write a commented capture.toml with the built-in defaults.

The file goes to --config if given, otherwise ~/.capture/capture.toml.`,
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		deviceID, _ := cmd.Flags().GetString("device-id")

		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				exitf("cannot find home directory: %v", err)
			}
			path = filepath.Join(home, ".capture", "capture.toml")
		}

		c := config.Default()
		c.DeviceID = deviceID
		if c.DeviceID == "" {
			if host, err := os.Hostname(); err == nil {
				c.DeviceID = host
			}
		}

		if err := config.Write(path, c, force); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Set network.allowed_ssids and the remote.* settings before syncing\n")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		shown := *cfg
		if shown.Remote.Password != "" {
			shown.Remote.Password = "********"
		}
		if shown.Remote.AuthToken != "" {
			shown.Remote.AuthToken = "********"
		}

		if cfg.File != "" {
			fmt.Printf("# from %s\n", cfg.File)
		} else {
			fmt.Println("# no config file found; defaults and environment only")
		}
		if err := toml.NewEncoder(os.Stdout).Encode(&shown); err != nil {
			exitf("%v", err)
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "\n%s %v\n", ui.RenderWarn("⚠"), err)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().String("device-id", "", "Device id to write (default: host name)")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
