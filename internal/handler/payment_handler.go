package handler

import (
	"net/http"

	"farmstore/internal/config"
	"farmstore/internal/middleware"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済事業者からの結果通知
type PaymentCallbackRequest struct {
	OrderID   int64  `json:"order_id"`
	Success   bool   `json:"success"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type PaymentHandler struct {
	uc *usecase.OrderUsecase
}

func NewPaymentHandler(uc *usecase.OrderUsecase) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	e.POST("/payments/callback", h.callback, middleware.WebhookSecret(cfg.PaymentWebhookSecret))
}

func (h *PaymentHandler) callback(c echo.Context) error {
	var req PaymentCallbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.ConfirmPayment(c.Request().Context(), usecase.PaymentResultInput{
		OrderID:   req.OrderID,
		Success:   req.Success,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
