package model

import "time"

type NotificationKind string

const (
	NotificationOrderCreated  NotificationKind = "order_created"
	NotificationStatusChanged NotificationKind = "order_status_changed"
)

type NotificationItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

// 外部配信に渡すペイロード
type OrderNotification struct {
	EventID       string             `json:"event_id"`
	EventKind     NotificationKind   `json:"event_kind"`
	OrderID       int64              `json:"order_id"`
	OrderNumber   string             `json:"order_number"`
	Status        OrderStatus        `json:"status"`
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	CustomerPhone string             `json:"customer_phone,omitempty"`
	Totals        OrderTotals        `json:"totals"`
	Items         []NotificationItem `json:"items"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// DedupKey identifies one logical event for one order.
func (n OrderNotification) DedupKey() string {
	return n.OrderNumber + ":" + string(n.EventKind) + ":" + string(n.Status)
}

func NewOrderNotification(kind NotificationKind, o Order, eventID string, at time.Time) OrderNotification {
	items := make([]NotificationItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, NotificationItem{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}
	return OrderNotification{
		EventID:       eventID,
		EventKind:     kind,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		Totals:        o.Totals(),
		Items:         items,
		OccurredAt:    at,
	}
}
