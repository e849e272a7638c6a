package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "maint",
	Short:   "Central database management",
}

var remoteInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the samples table in the central database",
	Long: `Create the samples table in the central database if it does not exist.

Safe to run repeatedly. The table layout follows remote.driver (mysql,
sqlite or libsql).`,
	Run: func(cmd *cobra.Command, args []string) {
		requireValid()

		rem := openRemote()
		defer rem.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout+cfg.Remote.ConnectTimeout)
		defer cancel()

		if err := rem.EnsureSchema(ctx); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("%s samples table ready on %s\n", ui.RenderPass("✓"), rem.Target())
	},
}

var remoteTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the connection to the central database",
	Run: func(cmd *cobra.Command, args []string) {
		requireValid()

		rem := openRemote()
		defer rem.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout+cfg.Remote.ConnectTimeout)
		defer cancel()

		start := time.Now()
		if err := rem.Ping(ctx); err != nil {
			exitf("cannot reach %s: %v", rem.Target(), err)
		}
		elapsed := time.Since(start)

		fmt.Printf("%s Connected to %s (%s) in %v\n", ui.RenderPass("✓"), rem.Target(), rem.Driver(), elapsed.Round(time.Millisecond))

		n, err := rem.Count(ctx)
		if err != nil {
			fmt.Printf("%s samples table not readable: %v\n", ui.RenderWarn("⚠"), err)
			fmt.Printf("   Run 'capture remote init' to create it\n")
			return
		}
		fmt.Printf("   Samples stored: %d\n", n)
	},
}

func init() {
	remoteCmd.AddCommand(remoteInitCmd, remoteTestCmd)
	rootCmd.AddCommand(remoteCmd)
}
