// Package seed bootstraps the tariff catalog so a fresh install can apply
// plans without an administrative step.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type planSeed struct {
	code         string
	name         string
	monthlyUnits int64
	priceCents   int64
	properties   []string
}

var defaultPlans = []planSeed{
	{code: "0000", name: "Provisioning Default", monthlyUnits: 0, priceCents: 0},
	{code: "free", name: "Free", monthlyUnits: 10, priceCents: 0},
	{code: "base750", name: "Base 750", monthlyUnits: 750, priceCents: 29900, properties: []string{"api_access"}},
	{code: "pro1500", name: "Pro 1500", monthlyUnits: 1500, priceCents: 49900, properties: []string{"api_access", "priority_support"}},
}

// EnsurePlans inserts the default catalog, skipping codes that already
// exist. Existing rows are never modified.
func EnsurePlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans {
			if err := ensurePlanTx(ctx, tx, node, plan); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensurePlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, plan planSeed) error {
	now := time.Now().UTC()
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO tariff_plans (id, plan_code, name, monthly_units, price_cents, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (plan_code) DO NOTHING`,
		node.Generate(),
		plan.code,
		plan.name,
		plan.monthlyUnits,
		plan.priceCents,
		true,
		now,
	).Error
	if err != nil {
		return err
	}

	for _, property := range plan.properties {
		err := tx.WithContext(ctx).Exec(
			`INSERT INTO tariff_properties (id, plan_code, property, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (plan_code, property) DO NOTHING`,
			node.Generate(),
			plan.code,
			property,
			now,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}
