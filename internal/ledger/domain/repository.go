package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByRef(ctx context.Context, db *gorm.DB, sub, ref string, direction Direction) (*Entry, error)
	ListBySub(ctx context.Context, db *gorm.DB, sub string, limit int) ([]Entry, error)
}
