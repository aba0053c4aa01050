package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
)

type Scope string

const (
	ScopeApartment Scope = "apartment"
	ScopeEntrance  Scope = "entrance"
)

// ServiceAssignment overrides a service for exactly one apartment or one entrance.
// Scope and target are fixed at creation.
type ServiceAssignment struct {
	ID                snowflake.ID                 `json:"id" gorm:"primaryKey"`
	ServiceID         snowflake.ID                 `json:"service_id" gorm:"not null;index:idx_service_assignments_service"`
	Scope             Scope                        `json:"scope" gorm:"type:varchar(16);not null"`
	ApartmentID       *int64                       `json:"apartment_id,omitempty"`
	EntranceNumber    *int                         `json:"entrance_number,omitempty"`
	Name              string                       `json:"name" gorm:"type:varchar(255);not null"`
	Category          rateledger.Category          `json:"category" gorm:"type:varchar(32);not null"`
	CalculationMethod rateledger.CalculationMethod `json:"calculation_method" gorm:"type:varchar(16);not null"`
	Active            bool                         `json:"active" gorm:"not null"`
	CreatedAt         time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                    `json:"updated_at" gorm:"not null"`
}

func (ServiceAssignment) TableName() string { return "service_assignments" }

// AssignmentTariff is one dated rate of an assignment ledger. AssignmentName is frozen
// when the row is written so the row stays readable once AssignmentID is cleared.
type AssignmentTariff struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	AssignmentID   *snowflake.ID   `json:"assignment_id,omitempty" gorm:"index:idx_assignment_tariffs_assignment_start,priority:1"`
	AssignmentName string          `json:"assignment_name" gorm:"type:varchar(255);not null"`
	Rate           decimal.Decimal `json:"rate" gorm:"type:decimal(12,4);not null"`
	Unit           rateledger.Unit `json:"unit" gorm:"type:varchar(16);not null"`
	StartDate      time.Time       `json:"start_date" gorm:"type:date;not null;index:idx_assignment_tariffs_assignment_start,priority:2"`
	EndDate        *time.Time      `json:"end_date,omitempty" gorm:"type:date"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (AssignmentTariff) TableName() string { return "assignment_tariffs" }

func (t AssignmentTariff) Window() rateledger.Window {
	return rateledger.NewWindow(t.StartDate, t.EndDate)
}

func (t AssignmentTariff) Orphaned() bool {
	return t.AssignmentID == nil
}

type AssignmentFilter struct {
	ServiceID      snowflake.ID
	Scope          Scope
	ApartmentID    *int64
	EntranceNumber *int
	Active         *bool
}
