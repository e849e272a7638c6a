package sample

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncState is the local-only synchronization state of a sample.
type SyncState string

const (
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
	StateFailed  SyncState = "failed"
)

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case StatePending, StateSynced, StateFailed:
		return true
	}
	return false
}

// FailureKind classifies why the last sync attempt failed.
type FailureKind string

const (
	// FailureNone is used while a sample is not in the failed state.
	FailureNone FailureKind = ""
	// FailureTransient covers network drops, timeouts and an unavailable
	// remote. Retrying later is expected to succeed.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers remote rejections (constraint or data errors)
	// that will not resolve by retrying and need an operator.
	FailurePermanent FailureKind = "permanent"
)

const (
	DefaultSupplier = "Flixton"
	DefaultCode     = "GB S011"

	// DayLayout formats the calendar-day key used by the allocator.
	DayLayout = "2006-01-02"
	// DateLayout formats use-by dates.
	DateLayout = "2006-01-02"
	// LocalTimeLayout formats CreatedAtLocal as wall-clock time for the
	// remote DATETIME column.
	LocalTimeLayout = "2006-01-02 15:04:05.000000"
	// OffsetTimeLayout is LocalTimeLayout plus the zone offset, so the
	// instant survives a DST fall-back hour. Fixed width.
	OffsetTimeLayout = "2006-01-02 15:04:05.000000-07:00"
)

// Decimal places kept by the remote columns.
const (
	SizeKgPlaces   int32 = 3
	PriceGBPPlaces int32 = 2
	TempCPlaces    int32 = 1
)

// Field bounds. Temperatures are inclusive on both ends.
var (
	MinTempC    = decimal.RequireFromString("-5.0")
	MaxTempC    = decimal.RequireFromString("20.0")
	MaxSizeKg   = decimal.RequireFromString("9999.999")
	MaxPriceGBP = decimal.RequireFromString("99999999.99")
)

// Sample is a single captured record.
type Sample struct {
	ID string `json:"id" yaml:"id"`

	Description string `json:"description" yaml:"description"`
	Retailer    string `json:"retailer" yaml:"retailer"`
	Customer    string `json:"customer,omitempty" yaml:"customer,omitempty"`
	Supplier    string `json:"supplier,omitempty" yaml:"supplier,omitempty"`
	Code        string `json:"code,omitempty" yaml:"code,omitempty"`
	PackCode    string `json:"pack_code,omitempty" yaml:"pack_code,omitempty"`

	SizeKg    decimal.NullDecimal `json:"size_kg" yaml:"size_kg"`
	PriceGBP  decimal.NullDecimal `json:"price_gbp" yaml:"price_gbp"`
	BirdTempC decimal.NullDecimal `json:"bird_temp_c" yaml:"bird_temp_c"`
	VanTempC  decimal.NullDecimal `json:"van_temp_c" yaml:"van_temp_c"`

	UseByDate *time.Time `json:"use_by_date,omitempty" yaml:"use_by_date,omitempty"`

	SampleNumber   int       `json:"sample_number" yaml:"sample_number"`
	CreatedAtLocal time.Time `json:"created_at_local" yaml:"created_at_local"`
	DeviceID       string    `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	DriverID       string    `json:"driver_id,omitempty" yaml:"driver_id,omitempty"`

	// Set from the remote store after the first successful write.
	ReceivedAtUTC *time.Time `json:"received_at_utc,omitempty" yaml:"received_at_utc,omitempty"`

	SyncState     SyncState   `json:"sync_state" yaml:"sync_state"`
	SyncError     string      `json:"sync_error,omitempty" yaml:"sync_error,omitempty"`
	FailureKind   FailureKind `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Attempts      int         `json:"attempts" yaml:"attempts"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`

	// Revision counts local edits. A sync outcome only lands on the
	// revision that was sent.
	Revision int `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// NewID returns a fresh sample identifier.
func NewID() string {
	return uuid.NewString()
}

// DayKey returns the allocator day key for t, taken from t's own date in
// its own location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// Day returns the allocator day key of the sample.
func (s *Sample) Day() string {
	return DayKey(s.CreatedAtLocal)
}

// SetDefaults applies default values for optional fields.
func (s *Sample) SetDefaults() {
	s.Description = strings.TrimSpace(s.Description)
	s.Retailer = strings.TrimSpace(s.Retailer)
	if strings.TrimSpace(s.Supplier) == "" {
		s.Supplier = DefaultSupplier
	}
	if strings.TrimSpace(s.Code) == "" {
		s.Code = DefaultCode
	}
	if s.SyncState == "" {
		s.SyncState = StatePending
	}
	if s.UseByDate != nil {
		d := TruncateDate(*s.UseByDate)
		s.UseByDate = &d
	}
}

// TruncateDate drops the clock part of t, keeping its location.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD date in the local time zone.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be in YYYY-MM-DD format: %w", err)
	}
	return t, nil
}

// ParseDecimal parses an optional decimal field. Blank input yields an
// invalid (null) value.
func ParseDecimal(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Decimal wraps d as a present optional value.
func Decimal(d string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(d))
}

// IsSyncable reports whether the sync engine should attempt this sample.
func (s *Sample) IsSyncable() bool {
	return s.SyncState == StatePending || s.SyncState == StateFailed
}

// Clone returns a deep copy of s.
func (s *Sample) Clone() *Sample {
	c := *s
	if s.UseByDate != nil {
		d := *s.UseByDate
		c.UseByDate = &d
	}
	if s.ReceivedAtUTC != nil {
		r := *s.ReceivedAtUTC
		c.ReceivedAtUTC = &r
	}
	if s.LastAttemptAt != nil {
		a := *s.LastAttemptAt
		c.LastAttemptAt = &a
	}
	return &c
}
