package sample

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultUseByWindowDays is how far ahead a use-by date may lie.
const DefaultUseByWindowDays = 60

// ValidationError lists every rule a sample violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Rules tunes the capture-time checks. The zero value checks field
// constraints only.
type Rules struct {
	// Now enables the use-by window check when set.
	Now time.Time
	// UseByWindowDays defaults to DefaultUseByWindowDays.
	UseByWindowDays int
}

// Validate checks the field constraints of a sample that is about to be
// stored. The ID and sample number are checked too, since a record without
// them must never reach the pending queue.
func (s *Sample) Validate() error {
	return s.ValidateWith(Rules{})
}

// ValidateWith runs Validate plus the rules in r.
func (s *Sample) ValidateWith(r Rules) error {
	var problems []string

	if s.ID == "" {
		problems = append(problems, "id is required")
	} else if _, err := uuid.Parse(s.ID); err != nil {
		problems = append(problems, fmt.Sprintf("id must be a UUID (got %q)", s.ID))
	}
	if strings.TrimSpace(s.Description) == "" {
		problems = append(problems, "description is required")
	}
	if strings.TrimSpace(s.Retailer) == "" {
		problems = append(problems, "retailer is required")
	}
	if s.SampleNumber < 1 {
		problems = append(problems, "sample number is required")
	}
	if s.CreatedAtLocal.IsZero() {
		problems = append(problems, "created_at_local is required")
	}
	if s.SyncState != "" && !s.SyncState.Valid() {
		problems = append(problems, fmt.Sprintf("unknown sync state %q", s.SyncState))
	}

	problems = append(problems, checkTemp("bird temperature", s.BirdTempC)...)
	problems = append(problems, checkTemp("van temperature", s.VanTempC)...)
	problems = append(problems, checkBounded("size", s.SizeKg, MaxSizeKg, SizeKgPlaces)...)
	problems = append(problems, checkBounded("price", s.PriceGBP, MaxPriceGBP, PriceGBPPlaces)...)

	if s.UseByDate != nil && !r.Now.IsZero() {
		window := r.UseByWindowDays
		if window <= 0 {
			window = DefaultUseByWindowDays
		}
		today := TruncateDate(r.Now)
		useBy := TruncateDate(s.UseByDate.In(r.Now.Location()))
		switch {
		case useBy.Before(today):
			problems = append(problems, "use-by date cannot be in the past")
		case useBy.After(today.AddDate(0, 0, window)):
			problems = append(problems, fmt.Sprintf("use-by date cannot be more than %d days in the future", window))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkTemp(name string, v decimal.NullDecimal) []string {
	if !v.Valid {
		return nil
	}
	if v.Decimal.LessThan(MinTempC) || v.Decimal.GreaterThan(MaxTempC) {
		return []string{fmt.Sprintf("%s must be between %s and %s °C", name, MinTempC.StringFixed(1), MaxTempC.StringFixed(1))}
	}
	return checkPlaces(name, v.Decimal, TempCPlaces)
}

func checkBounded(name string, v decimal.NullDecimal, max decimal.Decimal, places int32) []string {
	if !v.Valid {
		return nil
	}
	if v.Decimal.IsNegative() {
		return []string{fmt.Sprintf("%s must be >= 0", name)}
	}
	if v.Decimal.GreaterThan(max) {
		return []string{fmt.Sprintf("%s must be <= %s", name, max.String())}
	}
	return checkPlaces(name, v.Decimal, places)
}

// checkPlaces rejects values the remote column would round. Trailing
// zeros are fine: 4.10 is stored as 4.1.
func checkPlaces(name string, d decimal.Decimal, places int32) []string {
	if !d.Equal(d.Truncate(places)) {
		return []string{fmt.Sprintf("%s allows at most %d decimal %s", name, places, plural(places, "place", "places"))}
	}
	return nil
}

func plural(n int32, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
