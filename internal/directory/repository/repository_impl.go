package repository

import (
	"context"
	"fmt"

	"github.com/smallbiznis/cooptariff/internal/directory/domain"
	"gorm.io/gorm"
)

type directory struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Directory {
	return &directory{db: db}
}

func (d *directory) ApartmentExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&domain.Apartment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	return count > 0, nil
}

func (d *directory) EntranceExists(ctx context.Context, number int) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&domain.Entrance{}).Where("number = ?", number).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	return count > 0, nil
}
