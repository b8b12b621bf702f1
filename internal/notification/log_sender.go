package notification

import (
	"context"

	"farmstore/internal/domain/model"

	"go.uber.org/zap"
)

// LogSender は配信先がない環境（ローカル開発）向け。内容をログに出すだけ。
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n model.OrderNotification) error {
	s.logger.Info("order notification",
		zap.String("event_kind", string(n.EventKind)),
		zap.String("order_number", n.OrderNumber),
		zap.String("customer_email", n.CustomerEmail),
		zap.String("status", string(n.Status)),
		zap.Int64("total", n.Totals.Total),
		zap.Int("items", len(n.Items)),
	)
	return nil
}
