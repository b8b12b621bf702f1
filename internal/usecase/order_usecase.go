package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farmstore/internal/domain/model"
	"farmstore/internal/metrics"
	repo "farmstore/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderUsecase struct {
	tx       repo.TransactionManager
	ledger   *InventoryLedger
	notifier Notifier
	ids      IDGenerator
	clock    Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	ledger *InventoryLedger,
	notifier Notifier,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OrderUsecase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &OrderUsecase{
		tx:       tx,
		ledger:   ledger,
		notifier: notifier,
		ids:      ids,
		clock:    clock,
		logger:   logger,
		metrics:  m,
	}
}

type OrderItemOutput struct {
	ProductID     int64  `json:"product_id"`
	Name          string `json:"name"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int64  `json:"quantity"`
	LineTotal     int64  `json:"line_total"`
	StockUnits    int64  `json:"stock_units"`
	PreorderUnits int64  `json:"preorder_units"`
}

type OrderOutput struct {
	ID               int64                `json:"id"`
	OrderNumber      string               `json:"order_number"`
	Status           model.OrderStatus    `json:"status"`
	CustomerName     string               `json:"customer_name"`
	CustomerEmail    string               `json:"customer_email"`
	CustomerPhone    string               `json:"customer_phone,omitempty"`
	DeliveryMethod   model.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress  string               `json:"delivery_address,omitempty"`
	Subtotal         int64                `json:"subtotal"`
	DeliveryFee      int64                `json:"delivery_fee"`
	Tax              int64                `json:"tax"`
	Total            int64                `json:"total"`
	PaidAt           *time.Time           `json:"paid_at"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Items            []OrderItemOutput    `json:"items"`
}

type PaymentResultInput struct {
	OrderID   int64
	Success   bool
	Amount    int64
	Reference string
}

func (u *OrderUsecase) Get(ctx context.Context, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return newNotFound()
		}
		if err != nil {
			return err
		}
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, classify(err)
	}
	return out, nil
}

// Transition moves the order to next if the transition table allows it.
func (u *OrderUsecase) Transition(ctx context.Context, actor model.Principal, orderID int64, next model.OrderStatus) (OrderOutput, error) {
	return u.transition(ctx, actor, orderID, next, transitionOpts{})
}

// ConfirmPayment applies a result reported by the payment provider.
// A failed payment leaves the order pending.
func (u *OrderUsecase) ConfirmPayment(ctx context.Context, in PaymentResultInput) (OrderOutput, error) {
	if in.OrderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid order id")
	}
	if len(in.Reference) > 255 {
		return OrderOutput{}, NewValidationError("reference too long")
	}

	if !in.Success {
		o, err := u.Get(ctx, in.OrderID)
		if err != nil {
			return OrderOutput{}, err
		}
		u.logger.Warn("payment failed",
			zap.Int64("order_id", o.ID),
			zap.String("order_number", o.OrderNumber),
			zap.String("reference", in.Reference),
		)
		return o, nil
	}

	amount := in.Amount
	return u.transition(ctx, model.SystemPrincipal("payment"), in.OrderID, model.OrderStatusPaid, transitionOpts{
		paymentReference: in.Reference,
		expectedAmount:   &amount,
	})
}

type transitionOpts struct {
	paymentReference string
	expectedAmount   *int64
}

func (u *OrderUsecase) transition(ctx context.Context, actor model.Principal, orderID int64, next model.OrderStatus, opts transitionOpts) (OrderOutput, error) {
	ctx, span := tracer.Start(ctx, "order.Transition")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.String("to", string(next)))

	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid id")
	}
	if !next.Valid() {
		return OrderOutput{}, NewValidationError(fmt.Sprintf("invalid status %q", next))
	}

	var (
		out      OrderOutput
		from     model.OrderStatus
		released []model.Product
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return newNotFound()
		}
		if err != nil {
			return err
		}
		from = o.Status

		//遷移表にない遷移は何も変更しない
		if !model.CanTransition(from, next) {
			return newInvalidTransition(string(from), string(next))
		}
		if opts.expectedAmount != nil && *opts.expectedAmount != o.Total {
			return NewValidationError(fmt.Sprintf("amount %d does not match order total %d", *opts.expectedAmount, o.Total))
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}

		now := u.clock.Now()
		o.Status = next
		//paidAtは初回のみ
		if next == model.OrderStatusPaid && o.PaidAt == nil {
			paidAt := now
			o.PaidAt = &paidAt
		}
		if opts.paymentReference != "" && o.PaymentReference == "" {
			o.PaymentReference = opts.paymentReference
		}

		//出荷前のキャンセル・返金は在庫を戻す（一度だけ）
		if next.ReleasesStock() && from.BeforeFulfillment() && !o.StockReleased {
			source := model.InventorySourceSystem
			if actor.Role != "" {
				source = model.InventorySourceAdmin
			}
			orderRef := o.ID
			for _, it := range items {
				if it.StockUnits == 0 && it.PreorderUnits == 0 {
					continue
				}
				p, err := u.ledger.releaseTx(ctx, r, ReleaseInput{
					ProductID:     it.ProductID,
					StockUnits:    it.StockUnits,
					PreorderUnits: it.PreorderUnits,
					Reason:        fmt.Sprintf("order %s %s", o.OrderNumber, next),
					Source:        source,
					OrderID:       &orderRef,
					ActorID:       actor.ID,
				})
				if err != nil {
					return err
				}
				released = append(released, p)
			}
			o.StockReleased = true
		}

		if err := r.Orders().UpdateLifecycle(ctx, o); err != nil {
			return err
		}

		if actor.ID != "" {
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorID:      actor.ID,
				Action:       model.AuditActionUpdateOrderStatus,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   o.ID,
				BeforeJSON:   fmt.Sprintf(`{"status":%q}`, from),
				AfterJSON:    fmt.Sprintf(`{"status":%q}`, next),
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		o.UpdatedAt = now
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		err = classify(err)
		if errors.Is(err, ErrStorageUnavailable) {
			u.logger.Error("order transition failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return OrderOutput{}, err
	}

	u.metrics.Transitions.WithLabelValues(string(next)).Inc()
	u.logger.Info("order status changed",
		zap.Int64("order_id", out.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("actor", actor.ID),
	)
	for _, p := range released {
		u.ledger.observeStock(p)
	}

	if next.NotifiesCustomer() && from != next {
		u.notifier.Notify(ctx, model.NewOrderNotification(model.NotificationStatusChanged, out.toModel(), u.ids.NewID(), u.clock.Now()))
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID:     it.ProductID,
			Name:          it.ProductNameSnapshot,
			UnitPrice:     it.UnitPriceSnapshot,
			Quantity:      it.Quantity,
			LineTotal:     it.LineTotal,
			StockUnits:    it.StockUnits,
			PreorderUnits: it.PreorderUnits,
		})
	}

	return OrderOutput{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           o.Status,
		CustomerName:     o.CustomerName,
		CustomerEmail:    o.CustomerEmail,
		CustomerPhone:    o.CustomerPhone,
		DeliveryMethod:   o.DeliveryMethod,
		DeliveryAddress:  o.DeliveryAddress,
		Subtotal:         o.Subtotal,
		DeliveryFee:      o.DeliveryFee,
		Tax:              o.Tax,
		Total:            o.Total,
		PaidAt:           o.PaidAt,
		PaymentReference: o.PaymentReference,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Items:            outItems,
	}
}

// 通知ペイロード組み立て用
func (o OrderOutput) toModel() model.Order {
	items := make([]model.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, model.OrderItem{
			OrderID:             o.ID,
			ProductID:           it.ProductID,
			ProductNameSnapshot: it.Name,
			UnitPriceSnapshot:   it.UnitPrice,
			Quantity:            it.Quantity,
			LineTotal:           it.LineTotal,
		})
	}
	return model.Order{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		Subtotal:      o.Subtotal,
		DeliveryFee:   o.DeliveryFee,
		Tax:           o.Tax,
		Total:         o.Total,
		Status:        o.Status,
		Items:         items,
	}
}
