package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindBySub(ctx context.Context, db *gorm.DB, sub string) (*UserBalance, error)
	// GetOrCreate lazily provisions a zero balance. Safe under concurrent
	// first-touch: the insert is conflict-absorbing.
	GetOrCreate(ctx context.Context, db *gorm.DB, sub string) (*UserBalance, error)
	// AddUnits increments the balance unconditionally.
	AddUnits(ctx context.Context, db *gorm.DB, sub string, units int64) error
	// SubtractUnits decrements the balance only when it stays non-negative
	// and reports whether the decrement was applied.
	SubtractUnits(ctx context.Context, db *gorm.DB, sub string, units int64) (bool, error)
}
