package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/migrate"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
	"github.com/microsearch/drivercapture/internal/ui"
)

var importLegacyCmd = &cobra.Command{
	Use:     "import-legacy <samples.db>",
	GroupID: "maint",
	Short:   "Import samples from the previous capture app",
	Long: `Import samples from the previous capture app's samples.db.

Ids, sample numbers and capture times are kept, so samples that were
already sent are not duplicated centrally. Status maps as:
  pending -> pending
  synced  -> synced
  error   -> failed (retried on the next sync)

Day counters are raised past the imported numbers so new captures continue
the sequence. Running the import twice is harmless.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		db := openStore()
		defer db.Close()

		result, err := migrate.ImportLegacy(context.Background(), db, migrate.LegacyOptions{
			Path:     args[0],
			DeviceID: cfg.DeviceID,
			DryRun:   dryRun,
			Backup:   backup,
		})
		if err != nil {
			exitf("%v", err)
		}

		if dryRun {
			fmt.Printf("%s Dry run: nothing written\n", ui.RenderWarn("⚠"))
		}
		fmt.Printf("%s Read %s, imported %d, already present %d\n",
			ui.RenderPass("✓"), ui.Plural(result.Read, "sample", "samples"), result.Imported, result.AlreadyThere)
		if result.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", result.BackupCreated)
		}
		for key, n := range result.Counters {
			fmt.Printf("   Counter %s continues after #%d\n", key, n)
		}
		if len(result.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "\n%s %s skipped:\n", ui.RenderWarn("⚠"), ui.Plural(len(result.Errors), "sample", "samples"))
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "   - %s\n", e)
			}
			os.Exit(2)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "maint",
	Short:   "Export samples as JSONL",
	Long: `Export local samples as JSON lines, oldest first.

Examples:
  capture export > samples.jsonl
  capture export --state pending,failed -o unsent.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		states, _ := cmd.Flags().GetStringSlice("state")
		output, _ := cmd.Flags().GetString("output")

		filter := store.ListFilter{OldestFirst: true}
		for _, st := range states {
			state := sample.SyncState(strings.TrimSpace(st))
			if !state.Valid() {
				exitf("unknown state %q (use pending, synced or failed)", st)
			}
			filter.States = append(filter.States, state)
		}

		db := openStore()
		defer db.Close()

		out := os.Stdout
		if output != "" && output != "-" {
			f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				exitf("%v", err)
			}
			defer f.Close()
			out = f
		}

		n, err := migrate.ExportJSONL(context.Background(), db, out, filter)
		if err != nil {
			exitf("%v", err)
		}
		if out != os.Stdout {
			fmt.Printf("%s Exported %s to %s\n", ui.RenderPass("✓"), ui.Plural(n, "sample", "samples"), output)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "maint",
	Short:   "Import samples from a JSONL export",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db := openStore()
		defer db.Close()

		imported, skipped, err := migrate.ImportJSONL(context.Background(), db, args[0])
		if err != nil {
			exitf("%v", err)
		}
		fmt.Printf("%s Imported %d, already present %d\n", ui.RenderPass("✓"), imported, skipped)
	},
}

func init() {
	importLegacyCmd.Flags().Bool("dry-run", false, "Preview the import without writing")
	importLegacyCmd.Flags().Bool("backup", true, "Copy the legacy database aside first")

	exportCmd.Flags().StringSlice("state", nil, "Only export samples in these states")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	rootCmd.AddCommand(importLegacyCmd, exportCmd, importCmd)
}
