package audit

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog records one administrative or billing action for traceability.
type AuditLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Actor     string            `gorm:"type:text;not null" json:"actor"`
	Action    string            `gorm:"type:text;not null;index:ix_audit_logs_action" json:"action"`
	Sub       string            `gorm:"type:text;not null;index:ix_audit_logs_sub" json:"sub"`
	Detail    datatypes.JSONMap `gorm:"type:jsonb" json:"detail"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
