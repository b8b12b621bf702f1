package repository

import (
	"context"

	"farmstore/internal/domain/model"
	repo "farmstore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryLogGormRepository struct {
	db *gorm.DB
}

func NewInventoryLogGormRepository(db *gorm.DB) *InventoryLogGormRepository {
	return &InventoryLogGormRepository{db: db}
}

func (r *InventoryLogGormRepository) Append(ctx context.Context, entry *model.InventoryLogEntry) error {
	//Productは参照だけ。関連の保存はしない
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(entry).Error
}

func (r *InventoryLogGormRepository) ListByProduct(ctx context.Context, f repo.InventoryLogFilter) ([]model.InventoryLogEntry, error) {
	q := r.db.WithContext(ctx).
		Where("product_id = ?", f.ProductID).
		Order("id asc")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var entries []model.InventoryLogEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
