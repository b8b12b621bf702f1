package handler

import (
	"net/http"

	"farmstore/internal/config"
	"farmstore/internal/middleware"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /admin/products
type AdminProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewAdminProductHandler(uc *usecase.ProductUsecase) *AdminProductHandler {
	return &AdminProductHandler{uc: uc}
}

// adminを登録
func (h *AdminProductHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())

	admin.POST("/products", h.createProduct)
}

func (h *AdminProductHandler) createProduct(c echo.Context) error {
	var req usecase.AdminCreateProductInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	actor, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: usecase.CodeUnauthorized, Message: "unauthorized"})
	}

	p, err := h.uc.AdminCreateProduct(c.Request().Context(), actor, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}
