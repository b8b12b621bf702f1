package repository

import (
	"context"
	"errors"

	"farmstore/internal/domain/model"
)

var (
	ErrNotFound = errors.New("not found")
	//一意制約違反（注文番号・冪等キーなど）
	ErrDuplicate = errors.New("duplicate")
)

// 一覧検索
type ProductListQuery struct {
	Page     int
	Limit    int
	Q        string
	Category string
	Sort     string
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	ListPublic(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)

	// 行ロック付きで取得（トランザクション内で使う）
	FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)

	// 在庫数と予約数をまとめて更新
	UpdateCounters(ctx context.Context, id int64, stockQuantity int64, preorderCount int64) error
}
