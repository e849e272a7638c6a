package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/microsearch/drivercapture/internal/sample"
	capsync "github.com/microsearch/drivercapture/internal/sync"
	"github.com/microsearch/drivercapture/internal/ui"
)

// sampleView is the printable form of a sample. Decimals and dates are
// text so JSON and YAML show exactly what was captured.
type sampleView struct {
	ID             string `json:"id" yaml:"id"`
	SampleNumber   int    `json:"sample_number" yaml:"sample_number"`
	Day            string `json:"day" yaml:"day"`
	CreatedAtLocal string `json:"created_at_local" yaml:"created_at_local"`
	Description    string `json:"description" yaml:"description"`
	Retailer       string `json:"retailer" yaml:"retailer"`
	Customer       string `json:"customer,omitempty" yaml:"customer,omitempty"`
	Supplier       string `json:"supplier,omitempty" yaml:"supplier,omitempty"`
	Code           string `json:"code,omitempty" yaml:"code,omitempty"`
	PackCode       string `json:"pack_code,omitempty" yaml:"pack_code,omitempty"`
	SizeKg         string `json:"size_kg,omitempty" yaml:"size_kg,omitempty"`
	PriceGBP       string `json:"price_gbp,omitempty" yaml:"price_gbp,omitempty"`
	BirdTempC      string `json:"bird_temp_c,omitempty" yaml:"bird_temp_c,omitempty"`
	VanTempC       string `json:"van_temp_c,omitempty" yaml:"van_temp_c,omitempty"`
	UseByDate      string `json:"use_by_date,omitempty" yaml:"use_by_date,omitempty"`
	DeviceID       string `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	DriverID       string `json:"driver_id,omitempty" yaml:"driver_id,omitempty"`
	SyncState      string `json:"sync_state" yaml:"sync_state"`
	SyncError      string `json:"sync_error,omitempty" yaml:"sync_error,omitempty"`
	FailureKind    string `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Attempts       int    `json:"attempts" yaml:"attempts"`
	LastAttemptAt  string `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	ReceivedAtUTC  string `json:"received_at_utc,omitempty" yaml:"received_at_utc,omitempty"`
}

func viewOf(s *sample.Sample) sampleView {
	v := sampleView{
		ID:             s.ID,
		SampleNumber:   s.SampleNumber,
		Day:            s.Day(),
		CreatedAtLocal: s.CreatedAtLocal.Format("2006-01-02 15:04:05"),
		Description:    s.Description,
		Retailer:       s.Retailer,
		Customer:       s.Customer,
		Supplier:       s.Supplier,
		Code:           s.Code,
		PackCode:       s.PackCode,
		SizeKg:         fixed(s.SizeKg, 3),
		PriceGBP:       fixed(s.PriceGBP, 2),
		BirdTempC:      fixed(s.BirdTempC, 1),
		VanTempC:       fixed(s.VanTempC, 1),
		DeviceID:       s.DeviceID,
		DriverID:       s.DriverID,
		SyncState:      string(s.SyncState),
		SyncError:      s.SyncError,
		FailureKind:    string(s.FailureKind),
		Attempts:       s.Attempts,
		LastAttemptAt:  timeText(s.LastAttemptAt, time.Local),
		ReceivedAtUTC:  timeText(s.ReceivedAtUTC, time.UTC),
	}
	if s.UseByDate != nil {
		v.UseByDate = s.UseByDate.Format(sample.DateLayout)
	}
	return v
}

func fixed(v decimal.NullDecimal, places int32) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(places)
}

func timeText(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

// writeStructured prints v as json or yaml. It returns false for any
// other format so the caller can fall back to a table.
func writeStructured(format string, v any) bool {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			exitf("encoding JSON: %v", err)
		}
		return true
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			exitf("encoding YAML: %v", err)
		}
		_ = enc.Close()
		return true
	}
	return false
}

func checkFormat(format string) {
	switch format {
	case "table", "json", "yaml":
	default:
		exitf("--format must be table, json or yaml (got %q)", format)
	}
}

func samplesTable(samples []*sample.Sample) string {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			"#" + strconv.Itoa(s.SampleNumber),
			s.Day(),
			s.CreatedAtLocal.Format("15:04"),
			s.Description,
			s.Retailer,
			ui.RenderState(string(s.SyncState)),
			s.ID[:8],
		})
	}
	return ui.Table([]string{"NO", "DAY", "TIME", "DESCRIPTION", "RETAILER", "STATE", "ID"}, rows)
}

func printSample(s *sample.Sample) {
	v := viewOf(s)
	fmt.Printf("\n%s Sample #%d  %s\n\n", ui.RenderAccent("●"), v.SampleNumber, ui.RenderState(v.SyncState))

	fields := [][2]string{
		{"ID", v.ID},
		{"Captured", v.CreatedAtLocal},
		{"Description", v.Description},
		{"Retailer", v.Retailer},
		{"Customer", v.Customer},
		{"Supplier", v.Supplier},
		{"Code", v.Code},
		{"Pack code", v.PackCode},
		{"Size (kg)", v.SizeKg},
		{"Price (£)", v.PriceGBP},
		{"Bird temp (°C)", v.BirdTempC},
		{"Van temp (°C)", v.VanTempC},
		{"Use by", v.UseByDate},
		{"Device", v.DeviceID},
		{"Driver", v.DriverID},
		{"Attempts", strconv.Itoa(v.Attempts)},
		{"Last attempt", v.LastAttemptAt},
		{"Received (UTC)", v.ReceivedAtUTC},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Printf("  %-15s %s\n", f[0]+":", f[1])
	}
	if v.SyncError != "" {
		fmt.Printf("  %-15s %s (%s)\n", "Last error:", ui.RenderFail(v.SyncError), v.FailureKind)
	}
	fmt.Println()
}

func printReport(report *capsync.Report) {
	if report == nil {
		return
	}

	icon := ui.RenderPass("✓")
	if !report.Decision.Allowed {
		icon = ui.RenderWarn("⚠")
	} else if report.Failed() > 0 {
		icon = ui.RenderFail("✗")
	}
	fmt.Printf("%s %s (%s)\n", icon, report.Summary(), report.Decision.Reason)

	if len(report.Results) == 0 {
		return
	}

	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []string{
			"#" + strconv.Itoa(r.SampleNumber),
			r.Day,
			ui.RenderState(string(r.Outcome)),
			r.Reason,
		})
	}
	fmt.Print(ui.Table([]string{"NO", "DAY", "OUTCOME", "DETAIL"}, rows))
}
