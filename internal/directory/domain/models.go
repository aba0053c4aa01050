package domain

import (
	"context"
	"errors"
)

// Entrance is a building entrance, referenced by number.
type Entrance struct {
	Number int    `json:"number" gorm:"primaryKey;autoIncrement:false"`
	Label  string `json:"label" gorm:"type:varchar(64);not null;default:''"`
}

func (Entrance) TableName() string { return "entrances" }

type Apartment struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Number         string `json:"number" gorm:"type:varchar(32);not null"`
	EntranceNumber int    `json:"entrance_number" gorm:"not null;index"`
}

func (Apartment) TableName() string { return "apartments" }

// Directory answers whether assignment targets exist. It never mutates them.
type Directory interface {
	ApartmentExists(ctx context.Context, id int64) (bool, error)
	EntranceExists(ctx context.Context, number int) (bool, error)
}

var ErrDirectoryUnavailable = errors.New("directory_unavailable")
