package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the derived lifecycle state of a subscription. It is never
// stored; it is computed from expires_at and auto_renew at read time.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	// StatusInactive marks a user with no subscription at all; DeriveStatus
	// never produces it.
	StatusInactive Status = "inactive"
)

// UserSubscription binds a user to a tariff plan for a bounded period. The
// unique index on (sub, ref) makes plan application replayable under the
// same reference.
type UserSubscription struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Sub       string       `gorm:"type:text;not null;uniqueIndex:ux_user_subscriptions_sub_ref,priority:1" json:"sub"`
	PlanCode  string       `gorm:"type:text;not null" json:"plan_code"`
	Ref       string       `gorm:"type:text;not null;uniqueIndex:ux_user_subscriptions_sub_ref,priority:2" json:"ref"`
	StartedAt time.Time    `gorm:"not null" json:"started_at"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	AutoRenew bool         `gorm:"not null;default:true" json:"auto_renew"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UserSubscription) TableName() string { return "user_subscriptions" }

// DeriveStatus computes the lifecycle state at the given instant. An
// elapsed expiry always wins over the auto-renew flag.
func DeriveStatus(s UserSubscription, now time.Time) Status {
	if !s.ExpiresAt.After(now) {
		return StatusExpired
	}
	if !s.AutoRenew {
		return StatusCancelled
	}
	return StatusActive
}
