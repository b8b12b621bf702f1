package usecase

import (
	"context"
	"time"

	"farmstore/internal/domain/model"
)

// 通知の起動だけを行う。配信の成否は呼び出し元に返さない。
type Notifier interface {
	Notify(ctx context.Context, n model.OrderNotification)
}

type IDGenerator interface {
	NewID() string
}

type Clock interface {
	Now() time.Time
}

// チェックアウト入力の検証
type CheckoutValidator interface {
	ValidateCheckout(in CheckoutInput) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.OrderNotification) {}
