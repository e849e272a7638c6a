package sample

import (
	"strings"
	"testing"
	"time"
)

func validSample(now time.Time) Sample {
	return Sample{
		ID:             "4b5d2f0e-6a3c-4c1e-9f8e-2d7b1a0c9e11",
		Description:    "Whole bird",
		Retailer:       "Tesco",
		SampleNumber:   1,
		CreatedAtLocal: now,
	}
}

func TestSample_Validate(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

	tests := []struct {
		name    string
		mutate  func(s *Sample)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid minimal sample",
			mutate: func(s *Sample) {},
		},
		{
			name: "boundary values accepted",
			mutate: func(s *Sample) {
				s.BirdTempC = Decimal("-5.0")
				s.VanTempC = Decimal("20.0")
				s.PriceGBP = Decimal("0")
				s.SizeKg = Decimal("0")
			},
		},
		{
			name:    "missing id",
			mutate:  func(s *Sample) { s.ID = "" },
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "id not a uuid",
			mutate:  func(s *Sample) { s.ID = "sample-1" },
			wantErr: true,
			errMsg:  "id must be a UUID",
		},
		{
			name:    "blank description",
			mutate:  func(s *Sample) { s.Description = "   " },
			wantErr: true,
			errMsg:  "description is required",
		},
		{
			name:    "missing retailer",
			mutate:  func(s *Sample) { s.Retailer = "" },
			wantErr: true,
			errMsg:  "retailer is required",
		},
		{
			name:    "missing sample number",
			mutate:  func(s *Sample) { s.SampleNumber = 0 },
			wantErr: true,
			errMsg:  "sample number is required",
		},
		{
			name:    "bird temp too high",
			mutate:  func(s *Sample) { s.BirdTempC = Decimal("20.1") },
			wantErr: true,
			errMsg:  "bird temperature must be between -5.0 and 20.0",
		},
		{
			name:    "van temp too low",
			mutate:  func(s *Sample) { s.VanTempC = Decimal("-5.01") },
			wantErr: true,
			errMsg:  "van temperature must be between -5.0 and 20.0",
		},
		{
			name:    "negative price",
			mutate:  func(s *Sample) { s.PriceGBP = Decimal("-0.01") },
			wantErr: true,
			errMsg:  "price must be >= 0",
		},
		{
			name:    "negative size",
			mutate:  func(s *Sample) { s.SizeKg = Decimal("-1") },
			wantErr: true,
			errMsg:  "size must be >= 0",
		},
		{
			name:    "size too large",
			mutate:  func(s *Sample) { s.SizeKg = Decimal("10000") },
			wantErr: true,
			errMsg:  "size must be <= 9999.999",
		},
		{
			name: "trailing zeros within column scale",
			mutate: func(s *Sample) {
				s.BirdTempC = Decimal("4.10")
				s.PriceGBP = Decimal("1.500")
				s.SizeKg = Decimal("2.5000")
			},
		},
		{
			name:    "temperature with two decimals",
			mutate:  func(s *Sample) { s.BirdTempC = Decimal("19.95") },
			wantErr: true,
			errMsg:  "bird temperature allows at most 1 decimal place",
		},
		{
			name:    "price with three decimals",
			mutate:  func(s *Sample) { s.PriceGBP = Decimal("1.005") },
			wantErr: true,
			errMsg:  "price allows at most 2 decimal places",
		},
		{
			name:    "size with four decimals",
			mutate:  func(s *Sample) { s.SizeKg = Decimal("1.2345") },
			wantErr: true,
			errMsg:  "size allows at most 3 decimal places",
		},
		{
			name:    "unknown state",
			mutate:  func(s *Sample) { s.SyncState = "queued" },
			wantErr: true,
			errMsg:  `unknown sync state "queued"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample(now)
			tt.mutate(&s)
			err := s.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.errMsg)
			}
			if !IsValidationError(err) {
				t.Errorf("Validate() error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestSample_Validate_CollectsAllProblems(t *testing.T) {
	s := Sample{
		BirdTempC: Decimal("25"),
		VanTempC:  Decimal("-10"),
	}
	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	ve := err.(*ValidationError)
	if len(ve.Problems) < 6 {
		t.Errorf("Problems = %v, want at least 6 entries", ve.Problems)
	}
}

func TestSample_ValidateWith_UseByWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		useBy   time.Time
		wantErr string
	}{
		{name: "today", useBy: time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)},
		{name: "last day of window", useBy: time.Date(2026, 5, 13, 0, 0, 0, 0, time.Local)},
		{name: "yesterday", useBy: time.Date(2026, 3, 13, 0, 0, 0, 0, time.Local), wantErr: "cannot be in the past"},
		{name: "beyond window", useBy: time.Date(2026, 5, 14, 0, 0, 0, 0, time.Local), wantErr: "more than 60 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample(now)
			s.UseByDate = &tt.useBy
			err := s.ValidateWith(Rules{Now: now})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateWith() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateWith() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}

	// Without a clock the window is not checked.
	s := validSample(now)
	past := now.AddDate(-1, 0, 0)
	s.UseByDate = &past
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() without clock should skip use-by window, got %v", err)
	}
}

func TestSample_SetDefaults(t *testing.T) {
	useBy := time.Date(2026, 3, 20, 15, 45, 0, 0, time.Local)
	s := Sample{Description: "  Thighs ", Retailer: "Aldi", UseByDate: &useBy}
	s.SetDefaults()

	if s.Supplier != DefaultSupplier {
		t.Errorf("Supplier = %q, want %q", s.Supplier, DefaultSupplier)
	}
	if s.Code != DefaultCode {
		t.Errorf("Code = %q, want %q", s.Code, DefaultCode)
	}
	if s.SyncState != StatePending {
		t.Errorf("SyncState = %q, want %q", s.SyncState, StatePending)
	}
	if s.Description != "Thighs" {
		t.Errorf("Description = %q, want trimmed", s.Description)
	}
	if h, m, _ := s.UseByDate.Clock(); h != 0 || m != 0 {
		t.Errorf("UseByDate = %v, want midnight", s.UseByDate)
	}

	s = Sample{Supplier: "Moy Park", Code: "UK 1"}
	s.SetDefaults()
	if s.Supplier != "Moy Park" || s.Code != "UK 1" {
		t.Errorf("SetDefaults() overwrote explicit values: %q %q", s.Supplier, s.Code)
	}
}

func TestDayKey(t *testing.T) {
	late := time.Date(2026, 3, 14, 23, 59, 59, 0, time.Local)
	early := time.Date(2026, 3, 15, 0, 0, 1, 0, time.Local)
	if DayKey(late) == DayKey(early) {
		t.Errorf("DayKey(%v) == DayKey(%v), want different days", late, early)
	}
	if got := DayKey(late); got != "2026-03-14" {
		t.Errorf("DayKey() = %q, want 2026-03-14", got)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() returned duplicate %s", id)
		}
		seen[id] = true
	}
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("")
	if err != nil || v.Valid {
		t.Errorf("ParseDecimal(\"\") = %v, %v; want null, nil", v, err)
	}
	v, err = ParseDecimal(" 12.50 ")
	if err != nil || !v.Valid || v.Decimal.String() != "12.5" {
		t.Errorf("ParseDecimal(12.50) = %v, %v", v, err)
	}
	if _, err := ParseDecimal("twelve"); err == nil {
		t.Error("ParseDecimal(twelve) expected error")
	}
}
