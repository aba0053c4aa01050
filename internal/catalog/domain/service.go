package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

type CreateServiceRequest struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	CalculationMethod string `json:"calculation_method"`
	Active            *bool  `json:"active,omitempty"`
}

// ServicePatch lists the fields UpdateService accepts. Nil fields are left untouched.
type ServicePatch struct {
	Code              *string `json:"code,omitempty"`
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	CalculationMethod *string `json:"calculation_method,omitempty"`
}

func (p ServicePatch) Empty() bool {
	return p.Code == nil && p.Name == nil && p.Category == nil && p.CalculationMethod == nil
}

type ListServicesRequest struct {
	Active   *bool  `form:"active"`
	Category string `form:"category"`
	Code     string `form:"code"`
}

type ReplaceRateRequest struct {
	Rate      *decimal.Decimal `json:"rate"`
	StartDate string           `json:"start_date"`
}

type ServiceResponse struct {
	ID                string                       `json:"id"`
	Code              string                       `json:"code"`
	Name              string                       `json:"name"`
	Category          rateledger.Category          `json:"category"`
	CalculationMethod rateledger.CalculationMethod `json:"calculation_method"`
	Active            bool                         `json:"active"`
	CurrentTariff     *TariffResponse              `json:"current_tariff,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

type TariffResponse struct {
	ID        string          `json:"id"`
	ServiceID string          `json:"service_id"`
	Rate      string          `json:"rate"`
	Unit      rateledger.Unit `json:"unit"`
	StartDate string          `json:"start_date"`
	EndDate   *string         `json:"end_date"`
	Status    string          `json:"status"`
}

type ReplaceRateResponse struct {
	Closed  TariffResponse `json:"closed"`
	Created TariffResponse `json:"created"`
}

// Catalog manages services and their tariff ledgers.
type Catalog interface {
	CreateService(ctx context.Context, req CreateServiceRequest) (*ServiceResponse, error)
	UpdateService(ctx context.Context, id string, patch ServicePatch) (*ServiceResponse, error)
	GetService(ctx context.Context, id string) (*ServiceResponse, error)
	ListServices(ctx context.Context, req ListServicesRequest) ([]ServiceResponse, error)
	ToggleService(ctx context.Context, id string) (*ServiceResponse, error)

	ListTariffs(ctx context.Context, serviceID string) ([]TariffResponse, error)
	GetTariff(ctx context.Context, id string) (*TariffResponse, error)
	ReplaceRate(ctx context.Context, tariffID string, req ReplaceRateRequest) (*ReplaceRateResponse, error)
	DeleteTariff(ctx context.Context, id string) error
}
