package rateledger

import (
	"strings"
	"time"
)

// DateLayout is the wire format of tariff dates.
const DateLayout = "2006-01-02"

var ErrInvalidDateFormat = NewError(ErrValidation, "invalid_date_format", "dates must be formatted as YYYY-MM-DD")

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDateFormat
	}
	return DateOf(parsed), nil
}

// ParseOptionalDate returns nil for an empty value.
func ParseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := ParseDate(*raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func FormatDate(t time.Time) string {
	return DateOf(t).Format(DateLayout)
}

func FormatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := FormatDate(*t)
	return &formatted
}
