package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmstore/internal/domain/model"
	repo "farmstore/internal/repository"

	"go.uber.org/zap"
)

type ProductUsecase struct {
	productRepo repo.ProductRepository
	tx          repo.TransactionManager
	clock       Clock
	logger      *zap.Logger
}

// DI
func NewProductUsecase(productRepo repo.ProductRepository, tx repo.TransactionManager, clock Clock, logger *zap.Logger) *ProductUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductUsecase{
		productRepo: productRepo,
		tx:          tx,
		clock:       clock,
		logger:      logger,
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page     int
	Limit    int
	Q        string
	Category string
	Sort     string
}

// 商品＋購入可能数
type ProductOutput struct {
	model.Product
	AvailableStock    int64 `json:"available_stock"`
	PreorderRemaining int64 `json:"preorder_remaining"`
}

type ProductListOutput struct {
	Items []ProductOutput `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func toProductOutput(p model.Product) ProductOutput {
	return ProductOutput{
		Product:           p,
		AvailableStock:    max(p.StockQuantity, 0),
		PreorderRemaining: p.PreorderRemaining(),
	}
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewValidationError("invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewValidationError("invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewValidationError("q too long")
	}
	if len(in.Category) > 100 {
		return ProductListOutput{}, NewValidationError("category too long")
	}
	switch in.Sort {
	case "", "new", "name", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, NewValidationError("invalid sort")
	}

	items, total, err := u.productRepo.ListPublic(ctx, repo.ProductListQuery{
		Page:     in.Page,
		Limit:    in.Limit,
		Q:        strings.TrimSpace(in.Q),
		Category: strings.TrimSpace(in.Category),
		Sort:     in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, classify(err)
	}

	out := make([]ProductOutput, 0, len(items))
	for _, p := range items {
		out = append(out, toProductOutput(p))
	}
	return ProductListOutput{
		Items: out,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (ProductOutput, error) {
	if productID <= 0 {
		return ProductOutput{}, NewValidationError("invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return ProductOutput{}, newNotFound()
	}
	if err != nil {
		return ProductOutput{}, classify(err)
	}

	//非公開は存在しない扱い
	if !p.Sellable() {
		return ProductOutput{}, newNotFound()
	}
	return toProductOutput(p), nil
}

type AdminCreateProductInput struct {
	Name              string `json:"name"`
	Category          string `json:"category"`
	Price             int64  `json:"price"`
	Stock             int64  `json:"stock_quantity"`
	LowStockThreshold int64  `json:"low_stock_threshold"`
	PreorderEnabled   bool   `json:"preorder_enabled"`
	PreorderLimit     int64  `json:"preorder_limit"`
	IsActive          bool   `json:"is_active"`
}

// 商品登録。初期在庫もset履歴として残す（履歴の再生が0から始められるように）
func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, actor model.Principal, in AdminCreateProductInput) (ProductOutput, error) {
	if actor.ID == "" {
		return ProductOutput{}, newUnauthorized()
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return ProductOutput{}, NewValidationError("name required")
	}
	if len(name) > 255 {
		return ProductOutput{}, NewValidationError("name too long")
	}
	if in.Price < 0 {
		return ProductOutput{}, NewValidationError("price must be >= 0")
	}
	if in.Stock < 0 {
		return ProductOutput{}, NewValidationError("stock_quantity must be >= 0")
	}
	if in.LowStockThreshold < 0 {
		return ProductOutput{}, NewValidationError("low_stock_threshold must be >= 0")
	}
	if in.PreorderLimit < 0 {
		return ProductOutput{}, NewValidationError("preorder_limit must be >= 0")
	}
	if !in.PreorderEnabled && in.PreorderLimit > 0 {
		return ProductOutput{}, NewValidationError("preorder_limit requires preorder_enabled")
	}

	var created model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		now := u.clock.Now()
		p, err := r.Products().Create(ctx, model.Product{
			Name:              name,
			Category:          strings.TrimSpace(in.Category),
			Price:             in.Price,
			StockQuantity:     in.Stock,
			LowStockThreshold: in.LowStockThreshold,
			PreorderEnabled:   in.PreorderEnabled,
			PreorderLimit:     in.PreorderLimit,
			IsActive:          in.IsActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			return err
		}

		if err := r.InventoryLogs().Append(ctx, &model.InventoryLogEntry{
			ProductID:   p.ID,
			ChangeType:  model.InventoryChangeSet,
			Quantity:    p.StockQuantity,
			PreviousQty: 0,
			NewQty:      p.StockQuantity,
			Source:      model.InventorySourceAdmin,
			ActorID:     actor.ID,
			Note:        "initial stock",
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorID:      actor.ID,
			Action:       model.AuditActionCreateProduct,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   p.ID,
			BeforeJSON:   "{}",
			AfterJSON:    fmt.Sprintf(`{"name":%q,"price":%d,"stock_quantity":%d}`, p.Name, p.Price, p.StockQuantity),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		created = p
		return nil
	})
	if err != nil {
		return ProductOutput{}, classify(err)
	}

	u.logger.Info("product created", zap.Int64("product_id", created.ID), zap.String("actor", actor.ID))
	return toProductOutput(created), nil
}
