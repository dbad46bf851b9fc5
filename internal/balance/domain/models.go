// Package domain contains the persistence model and service contract for
// per-user unit balances.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UserBalance is the single mutable balance row per identity. It is only
// ever mutated through the balance service's debit/credit path.
type UserBalance struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Sub          string       `gorm:"type:text;not null;uniqueIndex:ux_user_balances_sub" json:"sub"`
	BalanceUnits int64        `gorm:"not null;default:0" json:"balance_units"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UserBalance) TableName() string { return "user_balances" }
