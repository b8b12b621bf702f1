package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"farmstore/internal/domain/model"
	"farmstore/internal/metrics"
	repo "farmstore/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// 注文番号・冪等キーの競合時にやり直す回数
const maxCheckoutAttempts = 3

type CartLine struct {
	ProductID     int64 `json:"product_id"`
	Quantity      int64 `json:"quantity"`
	AllowPreorder bool  `json:"allow_preorder"`
}

type CustomerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type CheckoutInput struct {
	Lines           []CartLine
	Customer        CustomerInput
	DeliveryMethod  model.DeliveryMethod
	DeliveryAddress string
	IdempotencyKey  string
}

type CheckoutOutput struct {
	Order OrderOutput
	//冪等キーで既存注文を返した
	Replayed bool
}

// 送料と税率
type PricingPolicy struct {
	TaxBasisPoints int64
	DeliveryFees   map[model.DeliveryMethod]int64
}

func (p PricingPolicy) Totals(subtotal int64, method model.DeliveryMethod) model.OrderTotals {
	fee := p.DeliveryFees[method]
	if method == model.DeliveryPickup {
		fee = 0
	}
	//四捨五入（0.5は切り上げ）
	tax := (subtotal*p.TaxBasisPoints + 5000) / 10000
	return model.OrderTotals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Tax:         tax,
		Total:       subtotal + fee + tax,
	}
}

// CheckoutUsecase turns a cart into a pending order.
type CheckoutUsecase struct {
	tx        repo.TransactionManager
	ledger    *InventoryLedger
	validator CheckoutValidator
	notifier  Notifier
	ids       IDGenerator
	clock     Clock
	pricing   PricingPolicy
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	ledger *InventoryLedger,
	validator CheckoutValidator,
	notifier Notifier,
	ids IDGenerator,
	clock Clock,
	pricing PricingPolicy,
	logger *zap.Logger,
	m *metrics.Metrics,
) *CheckoutUsecase {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &CheckoutUsecase{
		tx:        tx,
		ledger:    ledger,
		validator: validator,
		notifier:  notifier,
		ids:       ids,
		clock:     clock,
		pricing:   pricing,
		logger:    logger,
		metrics:   m,
	}
}

// Checkout admits every line and creates the order in one transaction.
// If any line cannot be admitted the transaction rolls back, which reverses the
// admissions already granted for earlier lines, and no order is written.
func (u *CheckoutUsecase) Checkout(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	ctx, span := tracer.Start(ctx, "checkout.Checkout")
	defer span.End()

	if u.validator != nil {
		if err := u.validator.ValidateCheckout(in); err != nil {
			u.metrics.Checkouts.WithLabelValues("invalid").Inc()
			return CheckoutOutput{}, err
		}
	}
	lines, err := mergeLines(in.Lines)
	if err != nil {
		u.metrics.Checkouts.WithLabelValues("invalid").Inc()
		return CheckoutOutput{}, err
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	span.SetAttributes(attribute.Int("lines", len(lines)))

	var (
		out      CheckoutOutput
		products []model.Product
	)
	for attempt := 1; ; attempt++ {
		out, products, err = u.checkoutOnce(ctx, in, lines)
		if !errors.Is(err, repo.ErrDuplicate) || attempt >= maxCheckoutAttempts {
			break
		}
		u.logger.Warn("checkout collided on unique key, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		span.RecordError(err)
		err = classify(err)
		switch {
		case errors.Is(err, ErrInsufficientStock):
			u.metrics.Checkouts.WithLabelValues("insufficient_stock").Inc()
		case errors.Is(err, ErrValidation):
			u.metrics.Checkouts.WithLabelValues("invalid").Inc()
		default:
			u.metrics.Checkouts.WithLabelValues("error").Inc()
			u.logger.Error("checkout failed", zap.Error(err))
		}
		return CheckoutOutput{}, err
	}

	if out.Replayed {
		u.metrics.Checkouts.WithLabelValues("replayed").Inc()
		return out, nil
	}
	u.metrics.Checkouts.WithLabelValues("created").Inc()
	u.logger.Info("order created",
		zap.Int64("order_id", out.Order.ID),
		zap.String("order_number", out.Order.OrderNumber),
		zap.Int64("total", out.Order.Total),
	)
	for _, p := range products {
		u.ledger.observeStock(p)
	}

	//コミット後に通知（失敗しても注文は成立）
	u.notifier.Notify(ctx, model.NewOrderNotification(model.NotificationOrderCreated, out.Order.toModel(), u.ids.NewID(), u.clock.Now()))
	return out, nil
}

// 引当後の商品状態も返す（在庫閾値の判定用）
func (u *CheckoutUsecase) checkoutOnce(ctx context.Context, in CheckoutInput, lines []CartLine) (CheckoutOutput, []model.Product, error) {
	var (
		out      CheckoutOutput
		products []model.Product
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if in.IdempotencyKey != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
				if err != nil {
					return err
				}
				out = CheckoutOutput{Order: toOrderOutput(existing, items), Replayed: true}
				return nil
			}
		}

		//1. 行ロックを取りながら全行の引当可否を判定（商品ID昇順）
		plans := make([]AdmissionResult, 0, len(lines))
		for _, line := range lines {
			plan, err := u.ledger.planTx(ctx, r, AdmitInput{
				ProductID:     line.ProductID,
				Quantity:      line.Quantity,
				AllowPreorder: line.AllowPreorder,
				Source:        model.InventorySourceCheckout,
			})
			if err != nil {
				return err
			}
			plans = append(plans, plan)
		}

		//2. 明細スナップショットと金額
		items := make([]model.OrderItem, 0, len(lines))
		var subtotal int64
		now := u.clock.Now()
		for i, line := range lines {
			p := plans[i].Product
			lineTotal := p.Price * line.Quantity
			subtotal += lineTotal
			items = append(items, model.OrderItem{
				ProductID:           p.ID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            line.Quantity,
				LineTotal:           lineTotal,
				StockUnits:          plans[i].StockUnits,
				PreorderUnits:       plans[i].PreorderUnits,
				CreatedAt:           now,
			})
		}
		totals := u.pricing.Totals(subtotal, in.DeliveryMethod)

		order := model.Order{
			OrderNumber:     newOrderNumber(now, u.ids.NewID()),
			CustomerName:    strings.TrimSpace(in.Customer.Name),
			CustomerEmail:   strings.ToLower(strings.TrimSpace(in.Customer.Email)),
			CustomerPhone:   strings.TrimSpace(in.Customer.Phone),
			DeliveryMethod:  in.DeliveryMethod,
			DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
			Subtotal:        totals.Subtotal,
			DeliveryFee:     totals.DeliveryFee,
			Tax:             totals.Tax,
			Total:           totals.Total,
			Status:          model.OrderStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			order.IdempotencyKey = &key
		}

		//3. 注文作成
		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
			return err
		}

		//4. カウンタ更新と在庫履歴（注文IDを紐付け）
		products = make([]model.Product, 0, len(plans))
		for i, plan := range plans {
			applied, err := u.ledger.applyTx(ctx, r, plan, AdmitInput{
				ProductID:     plan.ProductID,
				Quantity:      lines[i].Quantity,
				AllowPreorder: lines[i].AllowPreorder,
				Source:        model.InventorySourceCheckout,
				OrderID:       &orderID,
				Note:          "order " + order.OrderNumber,
			})
			if err != nil {
				return err
			}
			products = append(products, applied.Product)
		}

		out = CheckoutOutput{Order: toOrderOutput(order, items)}
		return nil
	})
	if err != nil {
		return CheckoutOutput{}, nil, err
	}
	return out, products, nil
}

// 同じ商品の行はまとめ、商品ID昇順に並べる（ロック順を揃えてデッドロックを避ける）
func mergeLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, NewValidationError("cart is empty")
	}
	byID := make(map[int64]int, len(lines))
	merged := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 {
			return nil, NewValidationError("invalid product id")
		}
		if l.Quantity <= 0 {
			return nil, NewValidationError(fmt.Sprintf("quantity for product %d must be > 0", l.ProductID))
		}
		if i, ok := byID[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			merged[i].AllowPreorder = merged[i].AllowPreorder || l.AllowPreorder
			continue
		}
		byID[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

// FS-20260102-1A2B3C
func newOrderNumber(now time.Time, id string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(id) {
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') {
			b.WriteRune(c)
		}
		if b.Len() == 6 {
			break
		}
	}
	suffix := b.String()
	for len(suffix) < 6 {
		suffix += "0"
	}
	return "FS-" + now.UTC().Format("20060102") + "-" + suffix
}
