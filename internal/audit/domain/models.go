package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EntityService    = "service"
	EntityAssignment = "assignment"
)

const (
	ActionServiceCreated     = "service.created"
	ActionServiceUpdated     = "service.updated"
	ActionServiceActivated   = "service.activated"
	ActionServiceDeactivated = "service.deactivated"
	ActionTariffReplaced     = "tariff.replaced"
	ActionTariffDeleted      = "tariff.deleted"
	ActionTariffUnitChanged  = "tariff.unit_changed"

	ActionAssignmentCreated        = "assignment.created"
	ActionAssignmentUpdated        = "assignment.updated"
	ActionAssignmentActivated      = "assignment.activated"
	ActionAssignmentDeactivated    = "assignment.deactivated"
	ActionAssignmentDeleted        = "assignment.deleted"
	ActionAssignmentTariffReplaced = "assignment_tariff.replaced"
	ActionAssignmentTariffEdited   = "assignment_tariff.edited"
	ActionAssignmentUnitChanged    = "assignment_tariff.unit_changed"

	ActionExpiryDeactivated = "expiry.deactivated"
)

// LedgerEvent is the persisted trace of one ledger mutation.
type LedgerEvent struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	EntityType string            `json:"entity_type" gorm:"type:varchar(32);not null;index:idx_ledger_events_entity"`
	EntityID   snowflake.ID      `json:"entity_id" gorm:"not null;index:idx_ledger_events_entity"`
	Action     string            `json:"action" gorm:"type:varchar(64);not null;index"`
	RateBefore *decimal.Decimal  `json:"rate_before,omitempty" gorm:"type:decimal(12,4)"`
	RateAfter  *decimal.Decimal  `json:"rate_after,omitempty" gorm:"type:decimal(12,4)"`
	ActorType  string            `json:"actor_type" gorm:"type:varchar(32);not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:varchar(128)"`
	RequestID  *string           `json:"request_id,omitempty" gorm:"type:varchar(64)"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

type ListFilter struct {
	EntityType string
	EntityID   snowflake.ID
	Action     string
	BeforeID   snowflake.ID
	Limit      int
}
