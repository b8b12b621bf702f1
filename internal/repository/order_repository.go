package repository

import (
	"context"
	"time"

	"farmstore/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	Email  string
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// 行ロック付きで取得（ステータス遷移で使う）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	// IDが埋まった注文を返す。注文番号・冪等キーの重複はErrDuplicate。
	Create(ctx context.Context, order model.Order) (int64, error)

	// status / paid_at / payment_reference / stock_released を保存
	UpdateLifecycle(ctx context.Context, order model.Order) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error)

	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
