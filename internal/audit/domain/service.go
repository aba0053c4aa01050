package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cooptariff/pkg/db/pagination"
	"gorm.io/gorm"
)

// Event describes one mutation to record.
type Event struct {
	EntityType string
	EntityID   snowflake.ID
	Action     string
	RateBefore *decimal.Decimal
	RateAfter  *decimal.Decimal
	Metadata   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	Action     string `form:"action"`
}

type ListResponse struct {
	pagination.PageInfo
	Events []LedgerEvent `json:"events"`
}

// RecordFunc writes one event inside the caller's transaction.
type RecordFunc func(Event) error

type Service interface {
	// Record writes the event with tx so it commits or rolls back with the mutation.
	// It does not log; see Publish.
	Record(ctx context.Context, tx *gorm.DB, event Event) error
	// Publish emits one ledger.<action> log entry per event. Call it only after the
	// transaction that recorded the events has committed.
	Publish(ctx context.Context, events ...Event)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction   = errors.New("invalid_action")
	ErrInvalidEntity   = errors.New("invalid_entity")
	ErrInvalidEntityID = errors.New("invalid_entity_id")
)
