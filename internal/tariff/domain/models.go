// Package domain contains the tariff catalog models. The catalog is
// read-mostly; writes happen through an administrative process outside this
// service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TariffPlan is a named bundle granting a fixed monthly unit allowance.
type TariffPlan struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanCode     string       `gorm:"type:text;not null;uniqueIndex:ux_tariff_plans_code" json:"plan_code"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	MonthlyUnits int64        `gorm:"not null;default:0" json:"monthly_units"`
	PriceCents   int64        `gorm:"not null;default:0" json:"price_cents"`
	IsActive     bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (TariffPlan) TableName() string { return "tariff_plans" }

// TariffProperty is one named capability of a plan beyond its unit count.
type TariffProperty struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanCode  string       `gorm:"type:text;not null;uniqueIndex:ux_tariff_properties_plan_prop,priority:1" json:"plan_code"`
	Property  string       `gorm:"type:text;not null;uniqueIndex:ux_tariff_properties_plan_prop,priority:2" json:"property"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (TariffProperty) TableName() string { return "tariff_properties" }
