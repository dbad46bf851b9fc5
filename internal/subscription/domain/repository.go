package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *UserSubscription) error
	// DeactivateBySub clears the active flag on every subscription of the
	// user, enforcing single-active-subscription before a new insert.
	DeactivateBySub(ctx context.Context, db *gorm.DB, sub string) error
	// FindActiveBySub returns the active, unexpired subscription, or nil.
	FindActiveBySub(ctx context.Context, db *gorm.DB, sub string, now time.Time) (*UserSubscription, error)
	FindBySubAndRef(ctx context.Context, db *gorm.DB, sub, ref string) (*UserSubscription, error)
	// FindExpiredAutoRenew lists active auto-renew subscriptions whose
	// expiry has elapsed, oldest first.
	FindExpiredAutoRenew(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]UserSubscription, error)
	// ExtendExpiry advances expires_at only when the stored value still
	// matches oldExpiry, so concurrent renewers apply a cycle once.
	ExtendExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, oldExpiry, newExpiry time.Time) (bool, error)
}
