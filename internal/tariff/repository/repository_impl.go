package repository

import (
	"context"

	tariffdomain "github.com/smallbiznis/unitledger/internal/tariff/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tariffdomain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, planCode string) (*tariffdomain.TariffPlan, error) {
	var plan tariffdomain.TariffPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_code, name, monthly_units, price_cents, is_active, created_at
		 FROM tariff_plans WHERE plan_code = ? LIMIT 1`,
		planCode,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindActiveByCode(ctx context.Context, db *gorm.DB, planCode string) (*tariffdomain.TariffPlan, error) {
	var plan tariffdomain.TariffPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_code, name, monthly_units, price_cents, is_active, created_at
		 FROM tariff_plans WHERE plan_code = ? AND is_active = ? LIMIT 1`,
		planCode,
		true,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]tariffdomain.TariffPlan, error) {
	var plans []tariffdomain.TariffPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_code, name, monthly_units, price_cents, is_active, created_at
		 FROM tariff_plans WHERE is_active = ? ORDER BY price_cents ASC, plan_code ASC`,
		true,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) ListPropertiesByCode(ctx context.Context, db *gorm.DB, planCode string) ([]tariffdomain.TariffProperty, error) {
	var properties []tariffdomain.TariffProperty
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_code, property, created_at
		 FROM tariff_properties WHERE plan_code = ? ORDER BY property ASC`,
		planCode,
	).Scan(&properties).Error
	if err != nil {
		return nil, err
	}
	return properties, nil
}
