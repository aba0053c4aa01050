package domain

import "github.com/smallbiznis/cooptariff/internal/rateledger"

var (
	ErrInvalidID              = rateledger.NewError(rateledger.ErrValidation, "invalid_id", "identifier is malformed")
	ErrInvalidName            = rateledger.NewError(rateledger.ErrValidation, "invalid_name", "assignment name must not be blank or exceed 255 characters")
	ErrInvalidScope           = rateledger.NewError(rateledger.ErrValidation, "invalid_scope", "scope must be apartment or entrance")
	ErrInvalidTarget          = rateledger.NewError(rateledger.ErrValidation, "invalid_target", "set apartment_id for apartment scope or entrance_number for entrance scope, never both")
	ErrEmptyPatch             = rateledger.NewError(rateledger.ErrValidation, "empty_patch", "no updatable field was supplied")
	ErrRateRequired           = rateledger.NewError(rateledger.ErrValidation, "rate_required", "a rate is required")
	ErrStartBeforeReference   = rateledger.NewError(rateledger.ErrValidation, "invalid_date", "the new start date must not precede the start date of the tariff being edited")
	ErrApartmentNotFound      = rateledger.NewError(rateledger.ErrNotFound, "apartment_not_found", "apartment does not exist")
	ErrEntranceNotFound       = rateledger.NewError(rateledger.ErrNotFound, "entrance_not_found", "entrance does not exist")
	ErrAssignmentNotFound     = rateledger.NewError(rateledger.ErrNotFound, "assignment_not_found", "assignment does not exist")
	ErrTariffNotFound         = rateledger.NewError(rateledger.ErrNotFound, "assignment_tariff_not_found", "assignment tariff does not exist")
	ErrServiceMissing         = rateledger.NewError(rateledger.ErrMissingParent, "service_missing", "the parent service no longer exists")
	ErrAssignmentMissing      = rateledger.NewError(rateledger.ErrMissingParent, "assignment_missing", "the tariff belongs to an assignment that no longer exists")
	ErrServiceInactive        = rateledger.NewError(rateledger.ErrInactiveParent, "service_inactive", "the parent service is inactive")
	ErrAssignmentInactive     = rateledger.NewError(rateledger.ErrInactiveParent, "assignment_inactive", "the assignment is inactive")
	ErrExpiredTariff          = rateledger.NewError(rateledger.ErrProtectedRecord, "tariff_expired", "a tariff that has already ended cannot be edited")
	ErrTariffDeletionDisabled = rateledger.NewError(rateledger.ErrMethodNotAllowed, "assignment_tariff_delete_not_allowed", "assignment tariffs are kept as billing history and cannot be deleted")
	ErrNoActiveTariff         = rateledger.NewError(rateledger.ErrNoActiveTariff, "no_active_tariff", "the assignment cannot be activated without a tariff in effect today")
)
