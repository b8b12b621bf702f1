package model

import (
	"time"

	"gorm.io/gorm"
)

// 商品。在庫数と予約枠はInventory Ledger経由でしか変更しない。
type Product struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	Category string `gorm:"type:varchar(100);not null;default:'';index" json:"category"`
	Price    int64  `gorm:"not null" json:"price"`

	//販売可能な在庫数（>= 0）
	StockQuantity     int64 `gorm:"not null;default:0;check:stock_quantity >= 0" json:"stock_quantity"`
	LowStockThreshold int64 `gorm:"not null;default:0" json:"low_stock_threshold"`

	//予約販売
	PreorderEnabled bool  `gorm:"not null;default:false" json:"preorder_enabled"`
	PreorderLimit   int64 `gorm:"not null;default:0" json:"preorder_limit"`
	PreorderCount   int64 `gorm:"not null;default:0;check:preorder_count >= 0" json:"preorder_count"`

	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 購入可能か（公開中かつ削除されていない）
func (p Product) Sellable() bool {
	return p.IsActive && !p.DeletedAt.Valid
}

// 残りの予約枠。予約不可なら0。
func (p Product) PreorderRemaining() int64 {
	if !p.PreorderEnabled {
		return 0
	}
	if r := p.PreorderLimit - p.PreorderCount; r > 0 {
		return r
	}
	return 0
}

func (p Product) LowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

// PlanAdmission splits qty between the stock pool and the preorder pool.
// ok is false when the two pools together cannot cover qty; nothing is partially granted.
func PlanAdmission(p Product, qty int64, allowPreorder bool) (stockUnits, preorderUnits int64, ok bool) {
	if qty <= 0 {
		return 0, 0, false
	}

	stockUnits = qty
	if p.StockQuantity < qty {
		stockUnits = max(p.StockQuantity, 0)
	}
	remainder := qty - stockUnits
	if remainder == 0 {
		return stockUnits, 0, true
	}

	//在庫で足りない分は予約枠から
	if !allowPreorder || p.PreorderRemaining() < remainder {
		return 0, 0, false
	}
	return stockUnits, remainder, true
}
