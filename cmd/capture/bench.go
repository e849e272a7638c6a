package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/loadtest"
	"github.com/microsearch/drivercapture/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Stress sample numbering with concurrent captures",
	Long: `Capture samples from several concurrent workers into a throwaway store,
then check that every day's numbers run 1..N with no gaps or duplicates.

Nothing touches the real store or the remote database.

Examples:
  # 8 workers, 50 captures each
  capture bench

  # Heavier run with JSON output
  capture bench --workers 32 --captures 200 --format json
`,
	GroupID:     "maint",
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		workers, _ := cmd.Flags().GetInt("workers")
		captures, _ := cmd.Flags().GetInt("captures")
		format, _ := cmd.Flags().GetString("format")
		checkFormat(format)

		if workers <= 0 {
			exitf("--workers must be positive")
		}
		if captures <= 0 {
			exitf("--captures must be positive")
		}

		dir, err := os.MkdirTemp("", "capture-bench-*")
		if err != nil {
			exitf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if format == "table" {
			fmt.Printf("%s Running %d workers x %d captures...\n",
				ui.RenderAccent("⏱"), workers, captures)
		}

		result, err := loadtest.Run(ctx, loadtest.Options{
			Dir:               dir,
			Workers:           workers,
			CapturesPerWorker: captures,
		})
		if err != nil {
			exitf("benchmark failed: %v", err)
		}

		out := struct {
			Workers   int           `json:"workers" yaml:"workers"`
			Captures  int           `json:"captures" yaml:"captures"`
			Errors    int           `json:"errors" yaml:"errors"`
			Elapsed   time.Duration `json:"elapsed_ns" yaml:"elapsed_ns"`
			PerSecond float64       `json:"captures_per_second" yaml:"captures_per_second"`
			P50       time.Duration `json:"p50_ns" yaml:"p50_ns"`
			P95       time.Duration `json:"p95_ns" yaml:"p95_ns"`
			P99       time.Duration `json:"p99_ns" yaml:"p99_ns"`
			Numbering []string      `json:"numbering_defects" yaml:"numbering_defects"`
		}{
			Workers:   workers,
			Captures:  result.Stats.Captures,
			Errors:    result.Stats.Errors,
			Elapsed:   result.Elapsed,
			P50:       result.Stats.P50,
			P95:       result.Stats.P95,
			P99:       result.Stats.P99,
			Numbering: result.Numbering,
		}
		if secs := result.Elapsed.Seconds(); secs > 0 {
			out.PerSecond = float64(result.Stats.Captures) / secs
		}

		if !writeStructured(format, out) {
			fmt.Println()
			result.Stats.PrintStats(os.Stdout)
			fmt.Printf("\n  Elapsed:       %v (%.0f captures/s)\n\n", result.Elapsed.Round(time.Millisecond), out.PerSecond)

			if len(result.Numbering) == 0 {
				fmt.Printf("%s Sample numbers contiguous and unique\n", ui.RenderPass("✓"))
			} else {
				fmt.Printf("%s Numbering defects:\n", ui.RenderFail("✗"))
				for _, d := range result.Numbering {
					fmt.Printf("  %s\n", d)
				}
			}
		}

		if len(result.Numbering) > 0 || result.Stats.Errors > 0 {
			_ = os.RemoveAll(dir)
			os.Exit(2)
		}
	},
}

func init() {
	benchCmd.Flags().Int("workers", 8, "Number of concurrent capture workers")
	benchCmd.Flags().Int("captures", 50, "Captures per worker")
	benchCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(benchCmd)
}
