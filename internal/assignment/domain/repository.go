package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *ServiceAssignment) error
	FindAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ServiceAssignment, error)
	LockAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ServiceAssignment, error)
	ListAssignments(ctx context.Context, db *gorm.DB, filter AssignmentFilter) ([]ServiceAssignment, error)
	UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *ServiceAssignment) error
	// DeactivateAssignment flips an active assignment to inactive and reports whether it did.
	DeactivateAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	DeleteAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertTariff(ctx context.Context, db *gorm.DB, tariff *AssignmentTariff) error
	FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AssignmentTariff, error)
	ListTariffs(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]AssignmentTariff, error)
	ListTariffsByAssignmentIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]AssignmentTariff, error)
	UpdateTariff(ctx context.Context, db *gorm.DB, tariff *AssignmentTariff) error
	// DetachTariffs clears assignment_id on every row of the ledger and returns how many rows it touched.
	DetachTariffs(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) (int64, error)
	ListOrphanedTariffs(ctx context.Context, db *gorm.DB) ([]AssignmentTariff, error)
}
