package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) balancedomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) FindBySub(ctx context.Context, db *gorm.DB, sub string) (*balancedomain.UserBalance, error) {
	var balance balancedomain.UserBalance
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, balance_units, created_at, updated_at
		 FROM user_balances WHERE sub = ?`,
		sub,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) GetOrCreate(ctx context.Context, db *gorm.DB, sub string) (*balancedomain.UserBalance, error) {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Exec(
		`INSERT INTO user_balances (id, sub, balance_units, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (sub) DO NOTHING`,
		r.genID.Generate(),
		sub,
		now,
		now,
	).Error
	if err != nil {
		return nil, err
	}
	return r.FindBySub(ctx, db, sub)
}

func (r *repo) AddUnits(ctx context.Context, db *gorm.DB, sub string, units int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET balance_units = balance_units + ?, updated_at = ?
		 WHERE sub = ?`,
		units,
		time.Now().UTC(),
		sub,
	).Error
}

func (r *repo) SubtractUnits(ctx context.Context, db *gorm.DB, sub string, units int64) (bool, error) {
	// The balance guard in the WHERE clause makes the decrement atomic on
	// every dialect; two concurrent debits can never jointly overdraw.
	result := db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET balance_units = balance_units - ?, updated_at = ?
		 WHERE sub = ? AND balance_units >= ?`,
		units,
		time.Now().UTC(),
		sub,
		units,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
