package model

import "time"

// 注文明細。商品名・単価は注文時点のスナップショット。
type OrderItem struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64     `gorm:"not null;index" json:"order_id"`
	ProductID           int64     `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string    `gorm:"type:varchar(255);not null" json:"product_name"`
	UnitPriceSnapshot   int64     `gorm:"not null" json:"unit_price"`
	Quantity            int64     `gorm:"not null" json:"quantity"`
	LineTotal           int64     `gorm:"not null" json:"line_total"`
	StockUnits          int64     `gorm:"not null;default:0" json:"stock_units"`
	PreorderUnits       int64     `gorm:"not null;default:0" json:"preorder_units"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
