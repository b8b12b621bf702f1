package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"farmstore/internal/domain/model"
	"farmstore/internal/metrics"
	repo "farmstore/internal/repository"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("farmstore/usecase")

// InventoryLedger is the only writer of a product's stock and preorder counters.
//
// Every mutation locks the product row (SELECT ... FOR UPDATE) inside the caller's
// transaction, so admissions for the same product are serialized and never read a
// stale stock value. Each counter change appends its log entry in the same transaction.
type InventoryLedger struct {
	tx      repo.TransactionManager
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewInventoryLedger(tx repo.TransactionManager, clock Clock, logger *zap.Logger, m *metrics.Metrics) *InventoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &InventoryLedger{tx: tx, clock: clock, logger: logger, metrics: m}
}

type AdmitInput struct {
	ProductID     int64
	Quantity      int64
	AllowPreorder bool
	Source        model.InventorySource
	OrderID       *int64
	ActorID       string
	Note          string
}

// 引当結果。在庫から何個、予約枠から何個かを返す。
type AdmissionResult struct {
	ProductID     int64         `json:"product_id"`
	StockUnits    int64         `json:"stock_units"`
	PreorderUnits int64         `json:"preorder_units"`
	Product       model.Product `json:"-"`
}

type ReleaseInput struct {
	ProductID     int64
	StockUnits    int64
	PreorderUnits int64
	Reason        string
	Source        model.InventorySource
	OrderID       *int64
	ActorID       string
}

type AdjustInput struct {
	ProductID int64
	Quantity  int64
	Source    model.InventorySource
	Note      string
	Actor     model.Principal
}

type AdjustOutput struct {
	Product  model.Product           `json:"product"`
	LogEntry model.InventoryLogEntry `json:"log_entry"`
}

// Admit reserves in.Quantity units of one product, all or nothing.
func (l *InventoryLedger) Admit(ctx context.Context, in AdmitInput) (AdmissionResult, error) {
	if in.Source == "" {
		in.Source = model.InventorySourceCheckout
	}
	if err := validateAdmit(in); err != nil {
		return AdmissionResult{}, err
	}

	var res AdmissionResult
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		plan, err := l.planTx(ctx, r, in)
		if err != nil {
			return err
		}
		res, err = l.applyTx(ctx, r, plan, in)
		return err
	})
	if err != nil {
		return AdmissionResult{}, classify(err)
	}

	l.observeStock(res.Product)
	return res, nil
}

func validateAdmit(in AdmitInput) error {
	if in.ProductID <= 0 {
		return NewValidationError("invalid product id")
	}
	if in.Quantity <= 0 {
		return NewValidationError("quantity must be > 0")
	}
	if !in.Source.Valid() {
		return NewValidationError("invalid source")
	}
	return nil
}

// 行ロックを取って引当の内訳を決める（書き込みはしない）
func (l *InventoryLedger) planTx(ctx context.Context, r repo.TxRepos, in AdmitInput) (AdmissionResult, error) {
	p, err := r.Products().FindByIDForUpdate(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return AdmissionResult{}, NewValidationError(fmt.Sprintf("product %d not found", in.ProductID))
	}
	if err != nil {
		return AdmissionResult{}, err
	}
	if !p.Sellable() {
		return AdmissionResult{}, NewValidationError(fmt.Sprintf("product %d is not available", in.ProductID))
	}

	stockUnits, preorderUnits, ok := model.PlanAdmission(p, in.Quantity, in.AllowPreorder)
	if !ok {
		l.metrics.Admissions.WithLabelValues("rejected", "none").Inc()
		return AdmissionResult{}, newInsufficientStock(p.ID, p.Name)
	}

	return AdmissionResult{
		ProductID:     p.ID,
		StockUnits:    stockUnits,
		PreorderUnits: preorderUnits,
		Product:       p,
	}, nil
}

// planTxで決めた内訳をカウンタと履歴に反映する。planTxと同じトランザクションで呼ぶこと。
func (l *InventoryLedger) applyTx(ctx context.Context, r repo.TxRepos, plan AdmissionResult, in AdmitInput) (AdmissionResult, error) {
	p := plan.Product
	newStock := p.StockQuantity - plan.StockUnits
	newPreorder := p.PreorderCount + plan.PreorderUnits

	if err := r.Products().UpdateCounters(ctx, p.ID, newStock, newPreorder); err != nil {
		return AdmissionResult{}, err
	}

	now := l.clock.Now()
	if plan.StockUnits > 0 {
		if err := r.InventoryLogs().Append(ctx, &model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangeDecrement,
			Quantity:    plan.StockUnits,
			PreviousQty: p.StockQuantity,
			NewQty:      newStock,
			Source:      in.Source,
			ActorID:     in.ActorID,
			OrderID:     in.OrderID,
			Note:        in.Note,
			CreatedAt:   now,
		}); err != nil {
			return AdmissionResult{}, err
		}
		l.metrics.Admissions.WithLabelValues("granted", "stock").Inc()
	}
	if plan.PreorderUnits > 0 {
		if err := r.InventoryLogs().Append(ctx, &model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangePreorder,
			Quantity:    plan.PreorderUnits,
			PreviousQty: p.PreorderCount,
			NewQty:      newPreorder,
			Source:      in.Source,
			ActorID:     in.ActorID,
			OrderID:     in.OrderID,
			Note:        in.Note,
			CreatedAt:   now,
		}); err != nil {
			return AdmissionResult{}, err
		}
		l.metrics.Admissions.WithLabelValues("granted", "preorder").Inc()
	}

	p.StockQuantity = newStock
	p.PreorderCount = newPreorder
	plan.Product = p
	return plan, nil
}

// Release reverses a prior admission. Guarding against applying the same release twice
// is the caller's job (see Order.StockReleased).
func (l *InventoryLedger) Release(ctx context.Context, in ReleaseInput) (model.Product, error) {
	if in.Source == "" {
		in.Source = model.InventorySourceSystem
	}
	if err := validateRelease(in); err != nil {
		return model.Product{}, err
	}

	var out model.Product
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out, err = l.releaseTx(ctx, r, in)
		return err
	})
	if err != nil {
		return model.Product{}, classify(err)
	}
	l.observeStock(out)
	return out, nil
}

func validateRelease(in ReleaseInput) error {
	if in.ProductID <= 0 {
		return NewValidationError("invalid product id")
	}
	if in.StockUnits < 0 || in.PreorderUnits < 0 {
		return NewValidationError("release units must be >= 0")
	}
	if in.StockUnits == 0 && in.PreorderUnits == 0 {
		return NewValidationError("nothing to release")
	}
	if !in.Source.Valid() {
		return NewValidationError("invalid source")
	}
	return nil
}

func (l *InventoryLedger) releaseTx(ctx context.Context, r repo.TxRepos, in ReleaseInput) (model.Product, error) {
	p, err := r.Products().FindByIDForUpdate(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, newNotFound()
	}
	if err != nil {
		return model.Product{}, err
	}

	newStock := p.StockQuantity + in.StockUnits

	//0未満にはしない。実際に戻した分だけ記録する
	preorderDelta := min(in.PreorderUnits, max(p.PreorderCount, 0))
	newPreorder := p.PreorderCount - preorderDelta
	if preorderDelta < in.PreorderUnits {
		l.logger.Warn("preorder release floored at zero",
			zap.Int64("product_id", p.ID),
			zap.Int64("requested", in.PreorderUnits),
			zap.Int64("applied", preorderDelta),
		)
	}

	if err := r.Products().UpdateCounters(ctx, p.ID, newStock, newPreorder); err != nil {
		return model.Product{}, err
	}

	now := l.clock.Now()
	if in.StockUnits > 0 {
		if err := r.InventoryLogs().Append(ctx, &model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangeIncrement,
			Quantity:    in.StockUnits,
			PreviousQty: p.StockQuantity,
			NewQty:      newStock,
			Source:      in.Source,
			ActorID:     in.ActorID,
			OrderID:     in.OrderID,
			Note:        in.Reason,
			CreatedAt:   now,
		}); err != nil {
			return model.Product{}, err
		}
	}
	if preorderDelta > 0 {
		if err := r.InventoryLogs().Append(ctx, &model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangePreorder,
			Quantity:    -preorderDelta,
			PreviousQty: p.PreorderCount,
			NewQty:      newPreorder,
			Source:      in.Source,
			ActorID:     in.ActorID,
			OrderID:     in.OrderID,
			Note:        in.Reason,
			CreatedAt:   now,
		}); err != nil {
			return model.Product{}, err
		}
	}

	p.StockQuantity = newStock
	p.PreorderCount = newPreorder
	return p, nil
}

// Adjust sets stock_quantity to an absolute value (manual recount).
func (l *InventoryLedger) Adjust(ctx context.Context, in AdjustInput) (AdjustOutput, error) {
	ctx, span := tracer.Start(ctx, "inventory.Adjust")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", in.ProductID))

	if in.Source == "" {
		in.Source = model.InventorySourceAdmin
	}
	if in.ProductID <= 0 {
		return AdjustOutput{}, NewValidationError("invalid product id")
	}
	if in.Quantity < 0 {
		return AdjustOutput{}, NewValidationError("quantity must be >= 0")
	}
	if !in.Source.Valid() {
		return AdjustOutput{}, NewValidationError("invalid source")
	}
	if in.Source == model.InventorySourceAdmin && in.Actor.ID == "" {
		return AdjustOutput{}, newUnauthorized()
	}
	note := strings.TrimSpace(in.Note)
	if len(note) > 1000 {
		return AdjustOutput{}, NewValidationError("note too long")
	}

	var out AdjustOutput
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByIDForUpdate(ctx, in.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return newNotFound()
		}
		if err != nil {
			return err
		}

		before := p.StockQuantity
		if err := r.Products().UpdateCounters(ctx, p.ID, in.Quantity, p.PreorderCount); err != nil {
			return err
		}

		now := l.clock.Now()
		entry := model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangeSet,
			Quantity:    in.Quantity,
			PreviousQty: before,
			NewQty:      in.Quantity,
			Source:      in.Source,
			ActorID:     in.Actor.ID,
			Note:        note,
			CreatedAt:   now,
		}
		if err := r.InventoryLogs().Append(ctx, &entry); err != nil {
			return err
		}

		//監査ログ（UPDATE_STOCK）
		if in.Actor.ID != "" {
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorID:      in.Actor.ID,
				Action:       model.AuditActionUpdateStock,
				ResourceType: model.AuditResourceProduct,
				ResourceID:   p.ID,
				BeforeJSON:   fmt.Sprintf(`{"stock_quantity":%d}`, before),
				AfterJSON:    fmt.Sprintf(`{"stock_quantity":%d}`, in.Quantity),
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		p.StockQuantity = in.Quantity
		out = AdjustOutput{Product: p, LogEntry: entry}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return AdjustOutput{}, classify(err)
	}

	l.logger.Info("stock adjusted",
		zap.Int64("product_id", out.Product.ID),
		zap.Int64("previous", out.LogEntry.PreviousQty),
		zap.Int64("new", out.LogEntry.NewQty),
		zap.String("actor", in.Actor.ID),
	)
	l.observeStock(out.Product)
	return out, nil
}

// History returns the product's log entries oldest first.
func (l *InventoryLedger) History(ctx context.Context, productID int64, limit, offset int) ([]model.InventoryLogEntry, error) {
	if productID <= 0 {
		return nil, NewValidationError("invalid product id")
	}
	if limit < 0 || limit > 1000 {
		return nil, NewValidationError("invalid limit")
	}
	if offset < 0 {
		return nil, NewValidationError("invalid offset")
	}

	var entries []model.InventoryLogEntry
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Products().FindByID(ctx, productID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return newNotFound()
			}
			return err
		}
		var err error
		entries, err = r.InventoryLogs().ListByProduct(ctx, repo.InventoryLogFilter{
			ProductID: productID,
			Limit:     limit,
			Offset:    offset,
		})
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if entries == nil {
		entries = []model.InventoryLogEntry{}
	}
	return entries, nil
}

// 在庫が閾値以下になったらwarnを出してゲージを立てる
func (l *InventoryLedger) observeStock(p model.Product) {
	if p.ID == 0 {
		return
	}
	id := strconv.FormatInt(p.ID, 10)
	if p.LowStock() {
		l.metrics.LowStock.WithLabelValues(id).Set(1)
		l.logger.Warn("product at or below low stock threshold",
			zap.Int64("product_id", p.ID),
			zap.String("name", p.Name),
			zap.Int64("stock_quantity", p.StockQuantity),
			zap.Int64("threshold", p.LowStockThreshold),
		)
		return
	}
	l.metrics.LowStock.WithLabelValues(id).Set(0)
}
