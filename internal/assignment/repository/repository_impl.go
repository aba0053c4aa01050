package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cooptariff/internal/assignment/domain"
	pkgdb "github.com/smallbiznis/cooptariff/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *domain.ServiceAssignment) error {
	return db.WithContext(ctx).Create(assignment).Error
}

func (r *repo) FindAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ServiceAssignment, error) {
	return firstAssignment(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ServiceAssignment, error) {
	return firstAssignment(pkgdb.ForUpdate(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, filter domain.AssignmentFilter) ([]domain.ServiceAssignment, error) {
	var assignments []domain.ServiceAssignment
	stmt := db.WithContext(ctx).Model(&domain.ServiceAssignment{})

	if filter.ServiceID != 0 {
		stmt = stmt.Where("service_id = ?", filter.ServiceID)
	}
	if filter.Scope != "" {
		stmt = stmt.Where("scope = ?", filter.Scope)
	}
	if filter.ApartmentID != nil {
		stmt = stmt.Where("apartment_id = ?", *filter.ApartmentID)
	}
	if filter.EntranceNumber != nil {
		stmt = stmt.Where("entrance_number = ?", *filter.EntranceNumber)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	if err := stmt.Order("id asc").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) UpdateAssignment(ctx context.Context, db *gorm.DB, assignment *domain.ServiceAssignment) error {
	return db.WithContext(ctx).Model(&domain.ServiceAssignment{}).
		Where("id = ?", assignment.ID).
		Updates(map[string]any{
			"name":               assignment.Name,
			"category":           assignment.Category,
			"calculation_method": assignment.CalculationMethod,
			"active":             assignment.Active,
			"updated_at":         assignment.UpdatedAt,
		}).Error
}

func (r *repo) DeactivateAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Model(&domain.ServiceAssignment{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteAssignment(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.ServiceAssignment{}).Error
}

func (r *repo) InsertTariff(ctx context.Context, db *gorm.DB, tariff *domain.AssignmentTariff) error {
	return db.WithContext(ctx).Create(tariff).Error
}

func (r *repo) FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AssignmentTariff, error) {
	var tariff domain.AssignmentTariff
	err := db.WithContext(ctx).Where("id = ?", id).First(&tariff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tariff, nil
}

func (r *repo) ListTariffs(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]domain.AssignmentTariff, error) {
	var tariffs []domain.AssignmentTariff
	err := db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("start_date asc, id asc").
		Find(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (r *repo) ListTariffsByAssignmentIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.AssignmentTariff, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tariffs []domain.AssignmentTariff
	err := db.WithContext(ctx).
		Where("assignment_id IN ?", ids).
		Order("assignment_id asc, start_date asc, id asc").
		Find(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (r *repo) UpdateTariff(ctx context.Context, db *gorm.DB, tariff *domain.AssignmentTariff) error {
	return db.WithContext(ctx).Model(&domain.AssignmentTariff{}).
		Where("id = ?", tariff.ID).
		Updates(map[string]any{
			"rate":       tariff.Rate,
			"unit":       tariff.Unit,
			"end_date":   tariff.EndDate,
			"updated_at": tariff.UpdatedAt,
		}).Error
}

func (r *repo) DetachTariffs(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Model(&domain.AssignmentTariff{}).
		Where("assignment_id = ?", assignmentID).
		Update("assignment_id", nil)
	return result.RowsAffected, result.Error
}

func (r *repo) ListOrphanedTariffs(ctx context.Context, db *gorm.DB) ([]domain.AssignmentTariff, error) {
	var tariffs []domain.AssignmentTariff
	err := db.WithContext(ctx).
		Where("assignment_id IS NULL").
		Order("assignment_name asc, start_date asc, id asc").
		Find(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}

func firstAssignment(stmt *gorm.DB) (*domain.ServiceAssignment, error) {
	var assignment domain.ServiceAssignment
	if err := stmt.First(&assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}
