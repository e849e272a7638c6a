package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/netgate"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
	capsync "github.com/microsearch/drivercapture/internal/sync"
	"github.com/microsearch/drivercapture/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Send pending samples now",
	Long: `Run one sync pass.

Pending and failed samples are sent oldest first, if the device is on an
allowed WiFi network or a trusted wired link. Otherwise nothing is sent and
every sample is reported as skipped_not_eligible.

Ctrl+C stops the pass after marking the sample in flight as failed; it will
be sent again next time.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		checkFormat(format)
		requireValid()

		db := openStore()
		defer db.Close()
		rem := openRemote()
		defer rem.Close()

		engine := newEngine(db, rem, newGate(), nil)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if format == "table" {
			fmt.Printf("%s Syncing to %s...\n", ui.RenderAccent("🔄"), rem.Target())
		}
		report, err := engine.SyncPending(ctx)
		if errors.Is(err, capsync.ErrSyncInProgress) {
			exitf("another sync is running on this device (is the daemon up?)")
		}

		if !writeStructured(format, report) {
			printReport(report)
		}

		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintf(os.Stderr, "%s Sync interrupted\n", ui.RenderWarn("⚠"))
			os.Exit(130)
		case err != nil:
			exitf("%v", err)
		case report != nil && report.Failed() > 0:
			os.Exit(2)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show network eligibility and the sync queue",
	Long: `Show whether this device may sync right now and what is waiting.

Shows:
  - The current network attachment and the gate decision
  - The allowed SSIDs and whether wired links are trusted
  - Sample counts by sync state
  - Samples the central database rejected (need operator attention)`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		checkFormat(format)

		ctx := context.Background()
		gate := newGate()
		decision := gate.Check(ctx)

		db := openStore()
		defer db.Close()

		counts, err := db.Counts(ctx)
		if err != nil {
			exitf("%v", err)
		}
		failed, err := db.ListSamples(ctx, store.ListFilter{States: []sample.SyncState{sample.StateFailed}, OldestFirst: true})
		if err != nil {
			exitf("%v", err)
		}
		var rejected []*sample.Sample
		for _, s := range failed {
			if s.FailureKind == sample.FailurePermanent {
				rejected = append(rejected, s)
			}
		}

		if format != "table" {
			views := make([]sampleView, 0, len(rejected))
			for _, s := range rejected {
				views = append(views, viewOf(s))
			}
			writeStructured(format, map[string]any{
				"decision": decision,
				"policy":   gate.Policy(),
				"counts":   counts,
				"rejected": views,
			})
			return
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))

		icon := ui.RenderPass("✓")
		if !decision.Allowed {
			icon = ui.RenderWarn("⚠")
		}
		fmt.Printf("Network:  %s %s\n", icon, decision.Reason)
		policy := gate.Policy()
		allowed := "(none)"
		if len(policy.AllowedSSIDs) > 0 {
			allowed = strings.Join(policy.AllowedSSIDs, ", ")
		}
		fmt.Printf("Allowed:  %s\n", allowed)
		fmt.Printf("Wired:    %s\n", map[bool]string{true: "trusted", false: "not trusted"}[policy.TrustWired])
		fmt.Printf("Store:    %s\n\n", db.Path())

		fmt.Printf("Pending:  %s\n", ui.RenderWarn(fmt.Sprint(counts[sample.StatePending])))
		fmt.Printf("Failed:   %s\n", ui.RenderFail(fmt.Sprint(counts[sample.StateFailed])))
		fmt.Printf("Synced:   %s\n", ui.RenderPass(fmt.Sprint(counts[sample.StateSynced])))

		if len(rejected) > 0 {
			fmt.Printf("\n%s %s rejected by the central database:\n", ui.RenderFail("✗"), ui.Plural(len(rejected), "sample", "samples"))
			for _, s := range rejected {
				fmt.Printf("   #%d %s  %s  %s\n", s.SampleNumber, s.Day(), s.ID[:8], s.SyncError)
			}
		}
		fmt.Println()
	},
}

var networkCmd = &cobra.Command{
	Use:     "network",
	GroupID: "sync",
	Short:   "Show the network attachment the gate sees",
	Run: func(cmd *cobra.Command, args []string) {
		provider := newStatusProvider()
		status, err := provider.Status(context.Background())
		if err != nil {
			exitf("reading network status: %v", err)
		}
		policy := netgate.NewPolicy(cfg.Network.AllowedSSIDs, cfg.Network.TrustWired)
		decision := netgate.Decide(status, policy)

		ssid := status.SSID
		if ssid == "" {
			ssid = "(none)"
		}
		fmt.Printf("Provider: %s\n", cfg.Network.Provider)
		fmt.Printf("WiFi:     %v (SSID %s)\n", status.WiFiActive, ssid)
		fmt.Printf("Wired:    %v\n", status.WiredActive)
		if decision.Allowed {
			fmt.Printf("Sync:     %s %s\n", ui.RenderPass("allowed"), decision.Reason)
		} else {
			fmt.Printf("Sync:     %s %s\n", ui.RenderWarn("waiting"), decision.Reason)
		}
	},
}

var networkSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Write the network status file",
	Long: `Write the network status file read by the file provider.

Meant for network hooks (e.g. a NetworkManager dispatcher script) on
devices where the system provider cannot see the attachment. A running
daemon notices the change and syncs straight away.

Examples:
  capture network set --ssid Ops
  capture network set --wired
  capture network set                  # offline`,
	Run: func(cmd *cobra.Command, args []string) {
		ssid, _ := cmd.Flags().GetString("ssid")
		wired, _ := cmd.Flags().GetBool("wired")

		path := cfg.Network.StatusFile
		if path == "" {
			exitf("network.status_file is not configured")
		}

		status := netgate.Status{SSID: ssid, WiFiActive: ssid != "", WiredActive: wired}
		if err := netgate.WriteStatusFile(path, status); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("%s Wrote %s at %s\n", ui.RenderPass("✓"), path, time.Now().Format("15:04:05"))
	},
}

func init() {
	syncCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	statusCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	networkSetCmd.Flags().String("ssid", "", "SSID of the active WiFi network (empty = no WiFi)")
	networkSetCmd.Flags().Bool("wired", false, "A wired link is up")
	networkCmd.AddCommand(networkSetCmd)

	rootCmd.AddCommand(syncCmd, statusCmd, networkCmd)
}
