package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

type Service struct {
	ID                snowflake.ID                 `json:"id" gorm:"primaryKey"`
	Code              string                       `json:"code" gorm:"type:varchar(64);not null;uniqueIndex:ux_services_code"`
	Name              string                       `json:"name" gorm:"type:varchar(255);not null"`
	Category          rateledger.Category          `json:"category" gorm:"type:varchar(32);not null"`
	CalculationMethod rateledger.CalculationMethod `json:"calculation_method" gorm:"type:varchar(16);not null"`
	Active            bool                         `json:"active" gorm:"not null"`
	CreatedAt         time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                    `json:"updated_at" gorm:"not null"`
}

func (Service) TableName() string { return "services" }

// Tariff is one dated rate of a service ledger. EndDate nil means open-ended.
type Tariff struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	ServiceID snowflake.ID    `json:"service_id" gorm:"not null;index:idx_tariffs_service_start,priority:1"`
	Rate      decimal.Decimal `json:"rate" gorm:"type:decimal(12,4);not null"`
	Unit      rateledger.Unit `json:"unit" gorm:"type:varchar(16);not null"`
	StartDate time.Time       `json:"start_date" gorm:"type:date;not null;index:idx_tariffs_service_start,priority:2"`
	EndDate   *time.Time      `json:"end_date,omitempty" gorm:"type:date"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Tariff) TableName() string { return "tariffs" }

func (t Tariff) Window() rateledger.Window {
	return rateledger.NewWindow(t.StartDate, t.EndDate)
}

type ServiceFilter struct {
	Active   *bool
	Category rateledger.Category
	Code     string
	IDs      []snowflake.ID
}
