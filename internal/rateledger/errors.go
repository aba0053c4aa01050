package rateledger

import "errors"

// Error kinds. Every domain error unwraps to exactly one of these.
var (
	ErrValidation       = errors.New("validation_error")
	ErrNotFound         = errors.New("not_found")
	ErrDuplicateCode    = errors.New("duplicate_code")
	ErrProtectedRecord  = errors.New("protected_record")
	ErrMissingParent    = errors.New("missing_parent")
	ErrInactiveParent   = errors.New("inactive_parent")
	ErrNoActiveTariff   = errors.New("no_active_tariff")
	ErrDateConflict     = errors.New("date_conflict")
	ErrMethodNotAllowed = errors.New("method_not_allowed")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrDuplicateCode,
	ErrProtectedRecord,
	ErrMissingParent,
	ErrInactiveParent,
	ErrNoActiveTariff,
	ErrDateConflict,
	ErrMethodNotAllowed,
}

// Error is a business-rule violation with a stable code and a message fit for operators.
type Error struct {
	kind    error
	code    string
	message string
}

func NewError(kind error, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

func (e *Error) Error() string { return e.code }

func (e *Error) Unwrap() error { return e.kind }

func (e *Error) Code() string { return e.code }

func (e *Error) Message() string { return e.message }

// KindOf returns the kind sentinel err belongs to, or nil for store and unknown errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsBusinessError reports whether err is a rule violation rather than an infrastructure fault.
func IsBusinessError(err error) bool {
	return KindOf(err) != nil
}

var (
	ErrInvalidInterval = NewError(ErrValidation, "invalid_interval", "end date must not be before start date")
	ErrOverlap         = NewError(ErrDateConflict, "overlapping_tariffs", "tariff period overlaps another tariff of the same ledger")
	ErrMultipleOpen    = NewError(ErrDateConflict, "multiple_open_tariffs", "only one tariff may be open-ended")
	ErrInvalidRate     = NewError(ErrValidation, "invalid_rate", "rate must be a non-negative number with at most 4 decimal places")
	ErrInvalidUnit     = NewError(ErrValidation, "invalid_unit", "unit must be one of m2, gcal, m3, kwh, fixed")
	ErrInvalidCategory = NewError(ErrValidation, "invalid_category", "category must be one of main, utility, additional, other")
	ErrInvalidMethod   = NewError(ErrValidation, "invalid_calculation_method", "calculation method must be one of fixed, meter, area")
)

// CodeOf returns the stable code of a business error, or "" for anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	if kind := KindOf(err); kind != nil {
		return kind.Error()
	}
	return ""
}
