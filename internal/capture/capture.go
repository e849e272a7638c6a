// Package capture is the validated-input boundary in front of the local
// store. It turns raw form input into a sample, numbers it and stores it
// as pending in one transaction. Nothing invalid ever reaches the queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/microsearch/drivercapture/internal/allocator"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/microsearch/drivercapture/internal/store"
	"github.com/shopspring/decimal"
)

// Draft is the raw input of the capture form. Numeric and date fields are
// text as typed; blank means absent.
type Draft struct {
	Description string `json:"description" yaml:"description"`
	Retailer    string `json:"retailer" yaml:"retailer"`
	Customer    string `json:"customer,omitempty" yaml:"customer,omitempty"`
	Supplier    string `json:"supplier,omitempty" yaml:"supplier,omitempty"`
	Code        string `json:"code,omitempty" yaml:"code,omitempty"`
	PackCode    string `json:"pack_code,omitempty" yaml:"pack_code,omitempty"`
	SizeKg      string `json:"size_kg,omitempty" yaml:"size_kg,omitempty"`
	PriceGBP    string `json:"price_gbp,omitempty" yaml:"price_gbp,omitempty"`
	BirdTempC   string `json:"bird_temp_c,omitempty" yaml:"bird_temp_c,omitempty"`
	VanTempC    string `json:"van_temp_c,omitempty" yaml:"van_temp_c,omitempty"`
	// UseByDate accepts YYYY-MM-DD or a phrase such as "next friday".
	UseByDate string `json:"use_by_date,omitempty" yaml:"use_by_date,omitempty"`
	// DriverID overrides the configured driver for this capture.
	DriverID string `json:"driver_id,omitempty" yaml:"driver_id,omitempty"`
}

// Config holds capture settings.
type Config struct {
	DeviceID string
	DriverID string

	// DefaultSupplier and DefaultCode fill blank fields. Empty values fall
	// back to sample.DefaultSupplier and sample.DefaultCode.
	DefaultSupplier string
	DefaultCode     string

	// UseByWindowDays caps how far ahead a use-by date may be.
	UseByWindowDays int

	Now    func() time.Time
	Logger *log.Logger
}

// Service creates and edits samples.
type Service struct {
	db     *store.DB
	alloc  *allocator.Allocator
	config Config
}

// New returns a capture service. The device id is required.
func New(db *store.DB, alloc *allocator.Allocator, config Config) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if alloc == nil {
		return nil, fmt.Errorf("allocator cannot be nil")
	}
	if strings.TrimSpace(config.DeviceID) == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[capture] ", log.LstdFlags)
	}
	if config.UseByWindowDays <= 0 {
		config.UseByWindowDays = sample.DefaultUseByWindowDays
	}
	return &Service{db: db, alloc: alloc, config: config}, nil
}

// Capture validates d, assigns the next sample number for today and stores
// the sample as pending. A rejected draft does not consume a number.
func (s *Service) Capture(ctx context.Context, d Draft) (*sample.Sample, error) {
	now := s.config.Now()
	created := now.In(time.Local).Round(0).Truncate(time.Microsecond)

	smp := &sample.Sample{
		ID:             sample.NewID(),
		CreatedAtLocal: created,
		DeviceID:       s.config.DeviceID,
		DriverID:       s.config.DriverID,
		SyncState:      sample.StatePending,
	}
	problems := s.apply(smp, d, now)

	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := s.alloc.NextIn(ctx, tx, created, s.config.DeviceID)
		if err != nil {
			return err
		}
		smp.SampleNumber = n

		if err := s.validate(smp, problems, now, true); err != nil {
			return err
		}
		return tx.AppendSample(ctx, smp)
	})
	if err != nil {
		return nil, err
	}

	s.config.Logger.Printf("Captured sample #%d (%s) for %s", smp.SampleNumber, smp.ID, smp.Day())
	return smp, nil
}

// Update replaces the editable fields of a stored sample with d. The
// sample goes back to pending so the edit reaches the remote store. The
// use-by window is only enforced when the date changes.
func (s *Service) Update(ctx context.Context, id string, d Draft) (*sample.Sample, error) {
	existing, err := s.db.GetSample(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	edited := existing.Clone()
	problems := s.apply(edited, d, now)

	useByChanged := !sameDate(existing.UseByDate, edited.UseByDate)
	if err := s.validate(edited, problems, now, useByChanged); err != nil {
		return nil, err
	}
	if err := s.db.UpdateSample(ctx, edited); err != nil {
		return nil, err
	}

	s.config.Logger.Printf("Updated sample #%d (%s), queued for sync", edited.SampleNumber, edited.ID)
	return s.db.GetSample(ctx, id)
}

// Delete removes a sample that has never been sent.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.db.DeleteSample(ctx, id); err != nil {
		return err
	}
	s.config.Logger.Printf("Deleted sample %s", id)
	return nil
}

// apply copies d onto smp and returns parse problems.
func (s *Service) apply(smp *sample.Sample, d Draft, now time.Time) []string {
	var problems []string

	smp.Description = strings.TrimSpace(d.Description)
	smp.Retailer = strings.TrimSpace(d.Retailer)
	smp.Customer = strings.TrimSpace(d.Customer)
	smp.Supplier = strings.TrimSpace(d.Supplier)
	smp.Code = strings.TrimSpace(d.Code)
	smp.PackCode = strings.TrimSpace(d.PackCode)
	if smp.Supplier == "" {
		smp.Supplier = s.config.DefaultSupplier
	}
	if smp.Code == "" {
		smp.Code = s.config.DefaultCode
	}
	if driver := strings.TrimSpace(d.DriverID); driver != "" {
		smp.DriverID = driver
	}

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.NullDecimal
	}{
		{"size", d.SizeKg, &smp.SizeKg},
		{"price", d.PriceGBP, &smp.PriceGBP},
		{"bird temperature", d.BirdTempC, &smp.BirdTempC},
		{"van temperature", d.VanTempC, &smp.VanTempC},
	}
	for _, f := range decimals {
		v, err := sample.ParseDecimal(f.raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be a number (got %q)", f.name, strings.TrimSpace(f.raw)))
			continue
		}
		*f.dst = v
	}

	smp.UseByDate = nil
	if strings.TrimSpace(d.UseByDate) != "" {
		useBy, err := ParseUseBy(d.UseByDate, now)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			smp.UseByDate = &useBy
		}
	}

	smp.SetDefaults()
	return problems
}

// validate runs the sample rules and merges in parse problems.
func (s *Service) validate(smp *sample.Sample, problems []string, now time.Time, checkWindow bool) error {
	rules := sample.Rules{UseByWindowDays: s.config.UseByWindowDays}
	if checkWindow {
		rules.Now = now
	}

	err := smp.ValidateWith(rules)
	if err == nil && len(problems) == 0 {
		return nil
	}

	all := append([]string(nil), problems...)
	var ve *sample.ValidationError
	if errors.As(err, &ve) {
		all = append(all, ve.Problems...)
	} else if err != nil {
		return err
	}
	return &sample.ValidationError{Problems: all}
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Format(sample.DateLayout) == b.Format(sample.DateLayout)
}

// DraftFrom renders a stored sample back into form input, the starting
// point for an edit.
func DraftFrom(smp *sample.Sample) Draft {
	d := Draft{
		Description: smp.Description,
		Retailer:    smp.Retailer,
		Customer:    smp.Customer,
		Supplier:    smp.Supplier,
		Code:        smp.Code,
		PackCode:    smp.PackCode,
		SizeKg:      decimalText(smp.SizeKg),
		PriceGBP:    decimalText(smp.PriceGBP),
		BirdTempC:   decimalText(smp.BirdTempC),
		VanTempC:    decimalText(smp.VanTempC),
		DriverID:    smp.DriverID,
	}
	if smp.UseByDate != nil {
		d.UseByDate = smp.UseByDate.Format(sample.DateLayout)
	}
	return d
}

func decimalText(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}
