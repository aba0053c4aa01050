package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertService(ctx context.Context, db *gorm.DB, service *Service) error
	FindServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Service, error)
	// LockServiceByID reads the service with a row lock; the service row guards its whole ledger.
	LockServiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Service, error)
	FindServiceByCode(ctx context.Context, db *gorm.DB, code string) (*Service, error)
	ListServices(ctx context.Context, db *gorm.DB, filter ServiceFilter) ([]Service, error)
	UpdateService(ctx context.Context, db *gorm.DB, service *Service) error
	// DeactivateService flips active to false only if it is still true and reports whether it did.
	DeactivateService(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	InsertTariff(ctx context.Context, db *gorm.DB, tariff *Tariff) error
	FindTariffByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tariff, error)
	ListTariffs(ctx context.Context, db *gorm.DB, serviceID snowflake.ID) ([]Tariff, error)
	ListTariffsByServiceIDs(ctx context.Context, db *gorm.DB, serviceIDs []snowflake.ID) ([]Tariff, error)
	UpdateTariff(ctx context.Context, db *gorm.DB, tariff *Tariff) error
	DeleteTariff(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
