package model

import "time"

type DeliveryMethod string

const (
	DeliveryPickup        DeliveryMethod = "pickup"
	DeliveryLocalDelivery DeliveryMethod = "local_delivery"
	DeliveryShipping      DeliveryMethod = "shipping"
)

func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryPickup, DeliveryLocalDelivery, DeliveryShipping:
		return true
	}
	return false
}

// 住所が必要な配送方法か
func (m DeliveryMethod) NeedsAddress() bool {
	return m == DeliveryLocalDelivery || m == DeliveryShipping
}

// 注文。金額は作成時に確定し、削除しない（会計記録として保持）。
type Order struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber string `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`

	CustomerName    string         `gorm:"type:varchar(255);not null" json:"customer_name"`
	CustomerEmail   string         `gorm:"type:varchar(255);not null;index" json:"customer_email"`
	CustomerPhone   string         `gorm:"type:varchar(30)" json:"customer_phone"`
	DeliveryMethod  DeliveryMethod `gorm:"type:varchar(20);not null" json:"delivery_method"`
	DeliveryAddress string         `gorm:"type:text" json:"delivery_address,omitempty"`

	Subtotal    int64 `gorm:"not null" json:"subtotal"`
	DeliveryFee int64 `gorm:"not null" json:"delivery_fee"`
	Tax         int64 `gorm:"not null" json:"tax"`
	Total       int64 `gorm:"not null" json:"total"`

	Status           OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	PaidAt           *time.Time  `json:"paid_at"`
	PaymentReference string      `gorm:"type:varchar(255);not null;default:''" json:"payment_reference,omitempty"`

	//在庫戻しを適用済みか（二重適用防止）
	StockReleased bool `gorm:"not null;default:false" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex" json:"-"`

	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (o Order) Totals() OrderTotals {
	return OrderTotals{
		Subtotal:    o.Subtotal,
		DeliveryFee: o.DeliveryFee,
		Tax:         o.Tax,
		Total:       o.Total,
	}
}

type OrderTotals struct {
	Subtotal    int64 `json:"subtotal"`
	DeliveryFee int64 `json:"delivery_fee"`
	Tax         int64 `json:"tax"`
	Total       int64 `json:"total"`
}
