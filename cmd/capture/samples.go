package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/microsearch/drivercapture/internal/capture"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
	"github.com/microsearch/drivercapture/internal/ui"
)

// draftFlags maps form fields to flag names.
var draftFlags = []struct {
	name  string
	usage string
	field func(d *capture.Draft) *string
}{
	{"description", "What was sampled (required)", func(d *capture.Draft) *string { return &d.Description }},
	{"retailer", "Retailer (required)", func(d *capture.Draft) *string { return &d.Retailer }},
	{"customer", "Customer", func(d *capture.Draft) *string { return &d.Customer }},
	{"supplier", "Supplier (default from config)", func(d *capture.Draft) *string { return &d.Supplier }},
	{"code", "Site code (default from config)", func(d *capture.Draft) *string { return &d.Code }},
	{"pack-code", "Pack code", func(d *capture.Draft) *string { return &d.PackCode }},
	{"size", "Size in kg, e.g. 2.5", func(d *capture.Draft) *string { return &d.SizeKg }},
	{"price", "Price in GBP, e.g. 12.99", func(d *capture.Draft) *string { return &d.PriceGBP }},
	{"bird-temp", "Bird temperature in °C (-5.0 to 20.0)", func(d *capture.Draft) *string { return &d.BirdTempC }},
	{"van-temp", "Van temperature in °C (-5.0 to 20.0)", func(d *capture.Draft) *string { return &d.VanTempC }},
	{"use-by", `Use-by date: YYYY-MM-DD, DD/MM/YYYY or e.g. "next friday"`, func(d *capture.Draft) *string { return &d.UseByDate }},
	{"driver", "Driver id (default from config)", func(d *capture.Draft) *string { return &d.DriverID }},
}

func addDraftFlags(cmd *cobra.Command) {
	for _, f := range draftFlags {
		cmd.Flags().String(f.name, "", f.usage)
	}
}

// applyDraftFlags copies the flags the user set onto d.
func applyDraftFlags(cmd *cobra.Command, d *capture.Draft) {
	for _, f := range draftFlags {
		if cmd.Flags().Changed(f.name) {
			v, _ := cmd.Flags().GetString(f.name)
			*f.field(d) = v
		}
	}
}

// runDraftForm lets the driver fill in or correct d on screen.
func runDraftForm(title string, d *capture.Draft) error {
	required := func(name string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", name)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().Title(title),
			huh.NewInput().Title("Description").Value(&d.Description).Validate(required("description")),
			huh.NewInput().Title("Retailer").Value(&d.Retailer).Validate(required("retailer")),
			huh.NewInput().Title("Customer").Value(&d.Customer),
			huh.NewInput().Title("Supplier").Placeholder(cfg.Capture.DefaultSupplier).Value(&d.Supplier),
			huh.NewInput().Title("Code").Placeholder(cfg.Capture.DefaultCode).Value(&d.Code),
			huh.NewInput().Title("Pack code").Value(&d.PackCode),
		),
		huh.NewGroup(
			huh.NewInput().Title("Size (kg)").Value(&d.SizeKg),
			huh.NewInput().Title("Price (£)").Value(&d.PriceGBP),
			huh.NewInput().Title("Bird temperature (°C)").Value(&d.BirdTempC),
			huh.NewInput().Title("Van temperature (°C)").Value(&d.VanTempC),
			huh.NewInput().Title("Use by").Placeholder("YYYY-MM-DD or next friday").Value(&d.UseByDate),
		),
	)
	return form.Run()
}

// reportCaptureError prints validation problems one per line.
func reportCaptureError(err error) {
	var ve *sample.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintf(os.Stderr, "%s Sample rejected:\n", ui.RenderFail("✗"))
		for _, p := range ve.Problems {
			fmt.Fprintf(os.Stderr, "   - %s\n", p)
		}
		os.Exit(1)
	}
	exitf("%v", err)
}

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "samples",
	Short:   "Capture a new sample",
	Long: `Capture a new sample and queue it for sync.

The sample gets the next number for today on this device. Nothing is sent
until a sync runs on an allowed network.

Examples:
  capture add --description "Whole bird" --retailer Tesco --bird-temp 3.5
  capture add --interactive`,
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")

		var d capture.Draft
		applyDraftFlags(cmd, &d)

		if interactive {
			if !ui.IsInteractive() {
				exitf("--interactive needs a terminal")
			}
			if err := runDraftForm("New sample", &d); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Cancelled")
					return
				}
				exitf("%v", err)
			}
		}

		db := openStore()
		defer db.Close()

		s, err := newCaptureService(db).Capture(context.Background(), d)
		if err != nil {
			reportCaptureError(err)
		}

		fmt.Printf("%s Captured sample %s on %s\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprintf("#%d", s.SampleNumber)), s.Day())
		fmt.Printf("   ID: %s\n", s.ID)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "samples",
	Short:   "List captured samples",
	Long: `List samples on this device, newest first.

Examples:
  capture list
  capture list --state failed
  capture list --state pending,failed --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		states, _ := cmd.Flags().GetStringSlice("state")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		checkFormat(format)

		filter := store.ListFilter{Limit: limit}
		for _, st := range states {
			state := sample.SyncState(strings.TrimSpace(st))
			if !state.Valid() {
				exitf("unknown state %q (use pending, synced or failed)", st)
			}
			filter.States = append(filter.States, state)
		}

		db := openStore()
		defer db.Close()

		samples, err := db.ListSamples(context.Background(), filter)
		if err != nil {
			exitf("%v", err)
		}

		views := make([]sampleView, 0, len(samples))
		for _, s := range samples {
			views = append(views, viewOf(s))
		}
		if writeStructured(format, views) {
			return
		}

		if len(samples) == 0 {
			fmt.Println("No samples")
			return
		}
		fmt.Print(samplesTable(samples))
		fmt.Printf("\n%s\n", ui.RenderMuted(ui.Plural(len(samples), "sample", "samples")))
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "samples",
	Short:   "Show one sample",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		checkFormat(format)

		db := openStore()
		defer db.Close()

		s := findSample(db, args[0])
		if writeStructured(format, viewOf(s)) {
			return
		}
		printSample(s)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "samples",
	Short:   "Correct a captured sample",
	Long: `Correct the fields of a captured sample.

Only the fields given as flags change. The sample keeps its id, number and
capture time, and is queued again so the correction reaches the central
database.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		interactive, _ := cmd.Flags().GetBool("interactive")

		db := openStore()
		defer db.Close()

		existing := findSample(db, args[0])
		d := capture.DraftFrom(existing)
		applyDraftFlags(cmd, &d)

		if interactive {
			if !ui.IsInteractive() {
				exitf("--interactive needs a terminal")
			}
			if err := runDraftForm(fmt.Sprintf("Sample #%d", existing.SampleNumber), &d); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Cancelled")
					return
				}
				exitf("%v", err)
			}
		}

		s, err := newCaptureService(db).Update(context.Background(), existing.ID, d)
		if err != nil {
			reportCaptureError(err)
		}
		fmt.Printf("%s Updated sample #%d, queued for sync\n", ui.RenderPass("✓"), s.SampleNumber)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "samples",
	Short:   "Delete a sample that was never sent",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		db := openStore()
		defer db.Close()

		s := findSample(db, args[0])

		if !force && ui.IsInteractive() {
			confirmed := false
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Delete sample #%d (%s, %s)?", s.SampleNumber, s.Description, s.Day())).
				Value(&confirmed)
			if err := prompt.Run(); err != nil || !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		if err := newCaptureService(db).Delete(context.Background(), s.ID); err != nil {
			if errors.Is(err, store.ErrNotPending) {
				exitf("sample #%d has already been sent or attempted and cannot be deleted", s.SampleNumber)
			}
			exitf("%v", err)
		}
		fmt.Printf("%s Deleted sample #%d\n", ui.RenderPass("✓"), s.SampleNumber)
	},
}

// findSample resolves a full id or a unique id prefix.
func findSample(db *store.DB, ref string) *sample.Sample {
	ctx := context.Background()

	s, err := db.GetSample(ctx, ref)
	if err == nil {
		return s
	}
	if !errors.Is(err, store.ErrNotFound) {
		exitf("%v", err)
	}

	all, err := db.ListSamples(ctx, store.ListFilter{})
	if err != nil {
		exitf("%v", err)
	}
	var match *sample.Sample
	for _, c := range all {
		if strings.HasPrefix(c.ID, ref) {
			if match != nil {
				exitf("id prefix %q is ambiguous", ref)
			}
			match = c
		}
	}
	if match == nil {
		exitf("sample %s not found", ref)
	}
	return match
}

func init() {
	addDraftFlags(addCmd)
	addCmd.Flags().BoolP("interactive", "i", false, "Fill in the sample with an on-screen form")

	listCmd.Flags().StringSlice("state", nil, "Only show samples in these states (pending, synced, failed)")
	listCmd.Flags().IntP("limit", "n", 50, "Maximum number of samples (0 = all)")
	listCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	showCmd.Flags().String("format", "table", "Output format: table, json or yaml")

	addDraftFlags(editCmd)
	editCmd.Flags().BoolP("interactive", "i", false, "Edit the sample with an on-screen form")

	deleteCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, deleteCmd)
}
