package handler

import (
	"net/http"

	"farmstore/internal/config"
	"farmstore/internal/domain/model"
	"farmstore/internal/middleware"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

// 注文の参照・ステータス更新（スタッフ以上）
type OrderHandler struct {
	uc *usecase.OrderUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc}
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.RoleGuard(model.RoleAdmin, model.RoleStaff))

	g.GET("/:id", h.get)
	g.PATCH("/:id", h.updateStatus)
}

func (h *OrderHandler) get(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) updateStatus(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Status == "" {
		return badRequest(c, "status required")
	}

	// 操作者（監査ログ用）
	actor, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: usecase.CodeUnauthorized, Message: "unauthorized"})
	}

	out, err := h.uc.Transition(c.Request().Context(), actor, id, model.OrderStatus(req.Status))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
