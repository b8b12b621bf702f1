package usecase

import (
	"context"
	"strings"
	"time"

	"farmstore/internal/domain/model"
	repo "farmstore/internal/repository"
)

type AdminOrderUsecase struct {
	tx repo.TransactionManager
}

func NewAdminOrderUsecase(tx repo.TransactionManager) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx}
}

type AdminOrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 注文一覧（管理者）
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (AdminOrderListOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return AdminOrderListOutput{}, NewValidationError("invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return AdminOrderListOutput{}, NewValidationError("invalid limit")
	}
	f.Status = strings.TrimSpace(f.Status)
	if f.Status != "" && !model.OrderStatus(f.Status).Valid() {
		return AdminOrderListOutput{}, NewValidationError("invalid status")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return AdminOrderListOutput{}, NewValidationError("from must be <= to")
	}
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))

	out := AdminOrderListOutput{Items: []OrderOutput{}, Page: f.Page, Limit: f.Limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return err
		}
		out.Total = total

		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return AdminOrderListOutput{}, classify(err)
	}
	return out, nil
}

type AuditLogListInput struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   *int64
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// 監査ログ一覧（新しい順）
func (u *AdminOrderUsecase) ListAuditLogs(ctx context.Context, in AuditLogListInput) ([]model.AuditLog, error) {
	if in.Limit == 0 {
		in.Limit = 50
	}
	if in.Limit < 1 || in.Limit > 200 {
		return nil, NewValidationError("invalid limit")
	}
	if in.Offset < 0 {
		return nil, NewValidationError("invalid offset")
	}

	f := repo.AuditLogFilter{
		ActorID:     strings.TrimSpace(in.ActorID),
		ResourceID:  in.ResourceID,
		CreatedFrom: in.From,
		CreatedTo:   in.To,
		Limit:       in.Limit,
		Offset:      in.Offset,
	}
	if in.Action != "" {
		a := model.AuditAction(in.Action)
		switch a {
		case model.AuditActionUpdateStock, model.AuditActionUpdateOrderStatus, model.AuditActionCreateProduct:
		default:
			return nil, NewValidationError("invalid action")
		}
		f.Action = &a
	}
	if in.ResourceType != "" {
		rt := model.AuditResourceType(in.ResourceType)
		if rt != model.AuditResourceProduct && rt != model.AuditResourceOrder {
			return nil, NewValidationError("invalid resource_type")
		}
		f.ResourceType = &rt
	}

	var logs []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		logs, err = r.AuditLogs().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return logs, nil
}
