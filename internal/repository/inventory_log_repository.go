package repository

import (
	"context"

	"farmstore/internal/domain/model"
)

type InventoryLogFilter struct {
	ProductID int64
	Limit     int
	Offset    int
}

// 在庫履歴は追記と参照のみ。更新・削除は用意しない。
type InventoryLogRepository interface {
	Append(ctx context.Context, entry *model.InventoryLogEntry) error

	// 古い順
	ListByProduct(ctx context.Context, f InventoryLogFilter) ([]model.InventoryLogEntry, error)
}
