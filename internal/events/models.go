// Package events implements a transactional outbox for billing audit events.
// Rows are written inside the same database transaction as the ledger
// mutation they describe and drained to Redis by a background publisher, so
// a publish failure can never roll back a committed balance change.
package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types mirrored from the upstream audit contract.
const (
	EventDebitProcessed    = "debit_processed"
	EventCreditProcessed   = "credit_processed"
	EventInsufficientFunds = "insufficient_funds"
	EventPlanApplied       = "plan_applied"
	EventPlanRenewed       = "plan_renewed"
	EventUserInitialized   = "user_initialized"
)

// BillingEvent captures outbox events for billing workflows.
type BillingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	Sub         string            `gorm:"type:text;not null;index"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_billing_events_dedupe"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

// Event is the publish request handed to the outbox.
type Event struct {
	Sub       string
	Type      string
	Payload   map[string]any
	DedupeKey string
}
