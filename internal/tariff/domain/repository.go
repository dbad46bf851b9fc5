package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, planCode string) (*TariffPlan, error)
	FindActiveByCode(ctx context.Context, db *gorm.DB, planCode string) (*TariffPlan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]TariffPlan, error)
	ListPropertiesByCode(ctx context.Context, db *gorm.DB, planCode string) ([]TariffProperty, error)
}
