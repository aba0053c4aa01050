package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cooptariff/internal/catalog/domain"
	pkgdb "github.com/smallbiznis/cooptariff/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertService(ctx context.Context, db *gorm.DB, service *domain.Service) error {
	return db.WithContext(ctx).Create(service).Error
}

func (r *repo) FindServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Service, error) {
	return firstService(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Service, error) {
	return firstService(pkgdb.ForUpdate(db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindServiceByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Service, error) {
	return firstService(db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)))
}

func (r *repo) ListServices(ctx context.Context, db *gorm.DB, filter domain.ServiceFilter) ([]domain.Service, error) {
	var services []domain.Service
	stmt := db.WithContext(ctx).Model(&domain.Service{})

	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if code := strings.TrimSpace(filter.Code); code != "" {
		stmt = stmt.Where("code = ?", code)
	}
	if len(filter.IDs) > 0 {
		stmt = stmt.Where("id IN ?", filter.IDs)
	}

	if err := stmt.Order("code asc").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

func (r *repo) UpdateService(ctx context.Context, db *gorm.DB, service *domain.Service) error {
	return db.WithContext(ctx).Model(&domain.Service{}).
		Where("id = ?", service.ID).
		Updates(map[string]any{
			"code":               service.Code,
			"name":               service.Name,
			"category":           service.Category,
			"calculation_method": service.CalculationMethod,
			"active":             service.Active,
			"updated_at":         service.UpdatedAt,
		}).Error
}

func (r *repo) DeactivateService(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Model(&domain.Service{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertTariff(ctx context.Context, db *gorm.DB, tariff *domain.Tariff) error {
	return db.WithContext(ctx).Create(tariff).Error
}

func (r *repo) FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tariff, error) {
	var tariff domain.Tariff
	err := db.WithContext(ctx).Where("id = ?", id).First(&tariff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tariff, nil
}

func (r *repo) ListTariffs(ctx context.Context, db *gorm.DB, serviceID snowflake.ID) ([]domain.Tariff, error) {
	var tariffs []domain.Tariff
	err := db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("start_date asc, id asc").
		Find(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (r *repo) ListTariffsByServiceIDs(ctx context.Context, db *gorm.DB, serviceIDs []snowflake.ID) ([]domain.Tariff, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	var tariffs []domain.Tariff
	err := db.WithContext(ctx).
		Where("service_id IN ?", serviceIDs).
		Order("service_id asc, start_date asc, id asc").
		Find(&tariffs).Error
	if err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (r *repo) UpdateTariff(ctx context.Context, db *gorm.DB, tariff *domain.Tariff) error {
	return db.WithContext(ctx).Model(&domain.Tariff{}).
		Where("id = ?", tariff.ID).
		Updates(map[string]any{
			"unit":       tariff.Unit,
			"end_date":   tariff.EndDate,
			"updated_at": tariff.UpdatedAt,
		}).Error
}

func (r *repo) DeleteTariff(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Tariff{}).Error
}

func firstService(stmt *gorm.DB) (*domain.Service, error) {
	var service domain.Service
	if err := stmt.First(&service).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &service, nil
}
