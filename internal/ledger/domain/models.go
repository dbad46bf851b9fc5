// Package domain contains the persistence model for the balance journal.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Entry is an immutable record of one balance-affecting event. The triple
// (sub, ref, direction) is the idempotency key: a second insert with the same
// triple is a replay, never a new event.
type Entry struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Sub           string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency,priority:1" json:"sub"`
	Ref           string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency,priority:2" json:"ref"`
	Direction     Direction    `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idempotency,priority:3" json:"direction"`
	Units         int64        `gorm:"not null" json:"units"`
	Reason        string       `gorm:"type:text;not null" json:"reason"`
	SourceService *string      `gorm:"type:text" json:"source_service,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }
