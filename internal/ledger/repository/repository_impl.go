package repository

import (
	"context"

	ledgerdomain "github.com/smallbiznis/unitledger/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *ledgerdomain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, sub, ref, direction, units, reason, source_service, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Sub,
		entry.Ref,
		string(entry.Direction),
		entry.Units,
		entry.Reason,
		entry.SourceService,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, sub, ref string, direction ledgerdomain.Direction) (*ledgerdomain.Entry, error) {
	var entry ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, ref, direction, units, reason, source_service, created_at
		 FROM ledger_entries
		 WHERE sub = ? AND ref = ? AND direction = ?
		 LIMIT 1`,
		sub,
		ref,
		string(direction),
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListBySub(ctx context.Context, db *gorm.DB, sub string, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []ledgerdomain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, sub, ref, direction, units, reason, source_service, created_at
		 FROM ledger_entries
		 WHERE sub = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sub,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
