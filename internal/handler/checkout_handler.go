package handler

import (
	"net/http"

	"farmstore/internal/domain/model"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutRequest struct {
	Items           []usecase.CartLine    `json:"items"`
	Customer        usecase.CustomerInput `json:"customer"`
	DeliveryMethod  string                `json:"delivery_method"`
	DeliveryAddress string                `json:"delivery_address"`
}

type CheckoutHandler struct {
	uc *usecase.CheckoutUsecase
}

func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc}
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/checkout", h.checkout)
}

// 201: 作成、200: 同じIdempotency-Keyで作成済みの注文
func (h *CheckoutHandler) checkout(c echo.Context) error {
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Checkout(c.Request().Context(), usecase.CheckoutInput{
		Lines:           req.Items,
		Customer:        req.Customer,
		DeliveryMethod:  model.DeliveryMethod(req.DeliveryMethod),
		DeliveryAddress: req.DeliveryAddress,
		IdempotencyKey:  c.Request().Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		return writeError(c, err)
	}

	if out.Replayed {
		return c.JSON(http.StatusOK, out.Order)
	}
	return c.JSON(http.StatusCreated, out.Order)
}
