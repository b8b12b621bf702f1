package model

import "time"

type InventoryChangeType string

const (
	InventoryChangeIncrement InventoryChangeType = "increment"
	InventoryChangeDecrement InventoryChangeType = "decrement"
	InventoryChangeSet       InventoryChangeType = "set"
	//予約枠（preorder_count）の増減
	InventoryChangePreorder InventoryChangeType = "preorder"
)

type InventorySource string

const (
	InventorySourceAdmin    InventorySource = "admin"
	InventorySourceCheckout InventorySource = "checkout"
	InventorySourceSystem   InventorySource = "system"
)

func (s InventorySource) Valid() bool {
	switch s {
	case InventorySourceAdmin, InventorySourceCheckout, InventorySourceSystem:
		return true
	}
	return false
}

// 在庫数の変更履歴。追記のみ（更新・削除しない）。
//
// Quantity:
//   - increment / decrement: 在庫数の変化量（正の値）
//   - set: 設定後の在庫数
//   - preorder: preorder_countの符号付き変化量
//
// PreviousQty / NewQty は、preorderの場合はpreorder_count、それ以外はstock_quantityの値。
type InventoryLogEntry struct {
	ID          int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   int64               `gorm:"not null;index" json:"product_id"`
	Product     *Product            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	ChangeType  InventoryChangeType `gorm:"type:varchar(20);not null" json:"change_type"`
	Quantity    int64               `gorm:"not null" json:"quantity"`
	PreviousQty int64               `gorm:"not null" json:"previous_qty"`
	NewQty      int64               `gorm:"not null" json:"new_qty"`
	Source      InventorySource     `gorm:"type:varchar(20);not null;index" json:"source"`
	ActorID     string              `gorm:"type:varchar(255);not null;default:''" json:"actor_id,omitempty"`
	OrderID     *int64              `gorm:"index" json:"order_id,omitempty"`
	Note        string              `gorm:"type:text" json:"note,omitempty"`
	CreatedAt   time.Time           `gorm:"not null;index" json:"created_at"`
}

// ReplayInventory applies the history (oldest first) to the starting counters.
func ReplayInventory(stock, preorder int64, entries []InventoryLogEntry) (int64, int64) {
	for _, e := range entries {
		switch e.ChangeType {
		case InventoryChangeIncrement:
			stock += e.Quantity
		case InventoryChangeDecrement:
			stock -= e.Quantity
		case InventoryChangeSet:
			stock = e.Quantity
		case InventoryChangePreorder:
			preorder += e.Quantity
		}
	}
	return stock, preorder
}
