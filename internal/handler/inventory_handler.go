package handler

import (
	"net/http"

	"farmstore/internal/config"
	"farmstore/internal/domain/model"
	"farmstore/internal/middleware"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
)

// InventoryAdjustRequest は棚卸しによる在庫数の設定。
type InventoryAdjustRequest struct {
	Quantity *int64 `json:"quantity"`
	Note     string `json:"note"`
}

type InventoryHandler struct {
	ledger *usecase.InventoryLedger
}

func NewInventoryHandler(ledger *usecase.InventoryLedger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

func (h *InventoryHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/inventory")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.AdminRoleGuard())

	g.POST("/:productId/adjust", h.adjust)
	g.GET("/:productId/logs", h.logs)
}

func (h *InventoryHandler) adjust(c echo.Context) error {
	productID, ok := paramID(c, "productId")
	if !ok {
		return badRequest(c, "invalid product id")
	}

	var req InventoryAdjustRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Quantity == nil {
		return badRequest(c, "quantity required")
	}

	actor, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: usecase.CodeUnauthorized, Message: "unauthorized"})
	}

	out, err := h.ledger.Adjust(c.Request().Context(), usecase.AdjustInput{
		ProductID: productID,
		Quantity:  *req.Quantity,
		Source:    model.InventorySourceAdmin,
		Note:      req.Note,
		Actor:     actor,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 古い順
func (h *InventoryHandler) logs(c echo.Context) error {
	productID, ok := paramID(c, "productId")
	if !ok {
		return badRequest(c, "invalid product id")
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return badRequest(c, "invalid limit")
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return badRequest(c, "invalid offset")
	}

	entries, err := h.ledger.History(c.Request().Context(), productID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": entries})
}
