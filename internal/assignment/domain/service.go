package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

// CreateAssignmentRequest targets exactly one of ApartmentID or EntranceNumber.
// Empty Name, Category and CalculationMethod are taken from the parent service.
type CreateAssignmentRequest struct {
	ServiceID         string `json:"service_id"`
	Scope             string `json:"scope"`
	ApartmentID       *int64 `json:"apartment_id,omitempty"`
	EntranceNumber    *int   `json:"entrance_number,omitempty"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	CalculationMethod string `json:"calculation_method"`
	Active            *bool  `json:"active,omitempty"`
}

// AssignmentPatch has no scope or target fields; those never change after creation.
type AssignmentPatch struct {
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	CalculationMethod *string `json:"calculation_method,omitempty"`
}

func (p AssignmentPatch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.CalculationMethod == nil
}

type ListAssignmentsRequest struct {
	ServiceID      string `form:"service_id"`
	Scope          string `form:"scope"`
	ApartmentID    *int64 `form:"apartment_id"`
	EntranceNumber *int   `form:"entrance_number"`
	Active         *bool  `form:"active"`
}

// ReplaceAssignmentRateRequest edits the referenced row when StartDate equals its start,
// otherwise closes it and appends a new row. EndDate applies to the edited or appended row.
type ReplaceAssignmentRateRequest struct {
	Rate      *decimal.Decimal `json:"rate"`
	StartDate string           `json:"start_date"`
	EndDate   *string          `json:"end_date,omitempty"`
}

type AssignmentResponse struct {
	ID                string                       `json:"id"`
	ServiceID         string                       `json:"service_id"`
	Scope             Scope                        `json:"scope"`
	ApartmentID       *int64                       `json:"apartment_id,omitempty"`
	EntranceNumber    *int                         `json:"entrance_number,omitempty"`
	Name              string                       `json:"name"`
	Category          rateledger.Category          `json:"category"`
	CalculationMethod rateledger.CalculationMethod `json:"calculation_method"`
	Active            bool                         `json:"active"`
	CurrentTariff     *TariffResponse              `json:"current_tariff,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

type TariffResponse struct {
	ID             string          `json:"id"`
	AssignmentID   *string         `json:"assignment_id"`
	AssignmentName string          `json:"assignment_name"`
	Rate           string          `json:"rate"`
	Unit           rateledger.Unit `json:"unit"`
	StartDate      string          `json:"start_date"`
	EndDate        *string         `json:"end_date"`
	Status         string          `json:"status"`
}

// ReplaceAssignmentRateResponse carries Closed only when a new row was appended.
type ReplaceAssignmentRateResponse struct {
	Closed *TariffResponse `json:"closed,omitempty"`
	Tariff TariffResponse  `json:"tariff"`
}

type Service interface {
	CreateAssignment(ctx context.Context, req CreateAssignmentRequest) (*AssignmentResponse, error)
	UpdateAssignment(ctx context.Context, id string, patch AssignmentPatch) (*AssignmentResponse, error)
	GetAssignment(ctx context.Context, id string) (*AssignmentResponse, error)
	ListAssignments(ctx context.Context, req ListAssignmentsRequest) ([]AssignmentResponse, error)
	ToggleAssignment(ctx context.Context, id string) (*AssignmentResponse, error)
	DeleteAssignment(ctx context.Context, id string) error

	ListAssignmentTariffs(ctx context.Context, assignmentID string) ([]TariffResponse, error)
	ListOrphanedTariffs(ctx context.Context) ([]TariffResponse, error)
	ReplaceAssignmentRate(ctx context.Context, tariffID string, req ReplaceAssignmentRateRequest) (*ReplaceAssignmentRateResponse, error)
	DeleteAssignmentTariff(ctx context.Context, id string) error
}
