package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/daemon"
	"github.com/microsearch/drivercapture/internal/statusfeed"
	capsync "github.com/microsearch/drivercapture/internal/sync"
	"github.com/microsearch/drivercapture/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync in the background (foreground process)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a sync pass at start-up
  2. Run a pass on the sync.schedule cron schedule (default every minute)
  3. Run a pass shortly after the network status file changes
  4. Serve live sync status on status.addr, if set

Use a process manager (systemd, the mobile shell) to keep it running.
SIGHUP reopens the log file.`,
	Run: func(cmd *cobra.Command, args []string) {
		requireValid()

		if addr, _ := cmd.Flags().GetString("status-addr"); cmd.Flags().Changed("status-addr") {
			cfg.Status.Addr = addr
		}

		db := openStore()
		defer db.Close()
		rem := openRemote()
		defer rem.Close()

		var feed *statusfeed.Server
		var onReport func(*capsync.Report)
		if cfg.Status.Addr != "" {
			feed = statusfeed.NewServer(&statusfeed.Config{
				Addr:   cfg.Status.Addr,
				Logger: sink.Logger("statusfeed"),
			})
			if err := feed.Start(); err != nil {
				exitf("starting status feed: %v", err)
			}
			defer feed.Stop()

			publisher := statusfeed.NewPublisher(feed, db, sink.Logger("statusfeed"))
			publisher.PublishStats(context.Background())
			onReport = publisher.OnReport
		}

		engine := newEngine(db, rem, newGate(), onReport)

		dcfg := &daemon.Config{
			Schedule:         cfg.Sync.Schedule,
			DebounceInterval: cfg.Sync.Debounce,
			Logger:           sink.Logger("daemon"),
		}
		if cfg.Network.Provider == "file" {
			dcfg.StatusFile = cfg.Network.StatusFile
		}

		d, err := daemon.NewWithConfig(engine, dcfg)
		if err != nil {
			exitf("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Store: %s\n", db.Path())
		fmt.Printf("   Remote: %s\n", rem.Target())
		if dcfg.Schedule != "" {
			fmt.Printf("   Schedule: %s\n", dcfg.Schedule)
		}
		if dcfg.StatusFile != "" {
			fmt.Printf("   Network status: %s\n", dcfg.StatusFile)
		}
		if feed != nil {
			fmt.Printf("   Status feed: ws://%s/ws\n", feed.Addr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for range hup {
				if err := sink.Rotate(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to rotate log: %v\n", err)
				}
			}
		}()

		// Start blocks until ctx is cancelled.
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().String("status-addr", "", "Serve the live status feed on this address (overrides status.addr)")
	rootCmd.AddCommand(daemonCmd)
}
