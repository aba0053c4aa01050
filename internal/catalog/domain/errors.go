package domain

import "github.com/smallbiznis/cooptariff/internal/rateledger"

var (
	ErrInvalidID              = rateledger.NewError(rateledger.ErrValidation, "invalid_id", "identifier is malformed")
	ErrInvalidName            = rateledger.NewError(rateledger.ErrValidation, "invalid_name", "service name is required and must not exceed 255 characters")
	ErrInvalidCode            = rateledger.NewError(rateledger.ErrValidation, "invalid_code", "service code must be lowercase letters, digits and underscores, at most 64 characters")
	ErrEmptyPatch             = rateledger.NewError(rateledger.ErrValidation, "empty_patch", "no updatable field was supplied")
	ErrRateRequired           = rateledger.NewError(rateledger.ErrValidation, "rate_required", "a rate is required")
	ErrStartNotAfterReference = rateledger.NewError(rateledger.ErrValidation, "invalid_date", "the new start date must be later than the start date of the tariff being replaced")

	ErrServiceNotFound = rateledger.NewError(rateledger.ErrNotFound, "service_not_found", "service does not exist")
	ErrTariffNotFound  = rateledger.NewError(rateledger.ErrNotFound, "tariff_not_found", "tariff does not exist")

	ErrDuplicateCode   = rateledger.NewError(rateledger.ErrDuplicateCode, "duplicate_code", "a service with this code already exists")
	ErrProtectedTariff = rateledger.NewError(rateledger.ErrProtectedRecord, "tariff_protected", "a tariff that is in effect today or scheduled for the future cannot be deleted")
	ErrNoActiveTariff  = rateledger.NewError(rateledger.ErrNoActiveTariff, "no_active_tariff", "the service cannot be activated without a tariff in effect today")
)
