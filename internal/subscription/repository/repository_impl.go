package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.UserSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO user_subscriptions (
			id, sub, plan_code, ref, started_at, expires_at, auto_renew, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.Sub,
		sub.PlanCode,
		sub.Ref,
		sub.StartedAt,
		sub.ExpiresAt,
		sub.AutoRenew,
		sub.IsActive,
		sub.CreatedAt,
	).Error
}

func (r *repo) DeactivateBySub(ctx context.Context, db *gorm.DB, sub string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_subscriptions SET is_active = ? WHERE sub = ? AND is_active = ?`,
		false,
		sub,
		true,
	).Error
}

func (r *repo) FindActiveBySub(ctx context.Context, db *gorm.DB, sub string, now time.Time) (*subscriptiondomain.UserSubscription, error) {
	var row subscriptiondomain.UserSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, plan_code, ref, started_at, expires_at, auto_renew, is_active, created_at
		 FROM user_subscriptions
		 WHERE sub = ? AND is_active = ? AND expires_at > ?
		 ORDER BY started_at DESC LIMIT 1`,
		sub,
		true,
		now,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindBySubAndRef(ctx context.Context, db *gorm.DB, sub, ref string) (*subscriptiondomain.UserSubscription, error) {
	var row subscriptiondomain.UserSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, plan_code, ref, started_at, expires_at, auto_renew, is_active, created_at
		 FROM user_subscriptions WHERE sub = ? AND ref = ? LIMIT 1`,
		sub,
		ref,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindExpiredAutoRenew(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.UserSubscription, error) {
	var rows []subscriptiondomain.UserSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, plan_code, ref, started_at, expires_at, auto_renew, is_active, created_at
		 FROM user_subscriptions
		 WHERE is_active = ? AND auto_renew = ? AND expires_at <= ?
		 ORDER BY expires_at ASC LIMIT ?`,
		true,
		true,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ExtendExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, oldExpiry, newExpiry time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_subscriptions SET expires_at = ?
		 WHERE id = ? AND expires_at = ? AND is_active = ?`,
		newExpiry,
		id,
		oldExpiry,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
