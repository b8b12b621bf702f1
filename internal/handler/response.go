package handler

import (
	"net/http"
	"strconv"

	"farmstore/internal/logging"
	"farmstore/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id,omitempty"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		if he.Status >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context(), nil).Error("request failed", zap.Error(he))
		}
		return c.JSON(he.Status, ErrorResponse{Error: he.Code, Message: he.Message, ProductID: he.ProductID})
	}

	//500
	logging.FromContext(c.Request().Context(), nil).Error("unexpected error", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: usecase.CodeInternal, Message: "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidation, Message: msg})
}

// パスパラメータのIDを取り出す
func paramID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// クエリの数値（空ならdef）
func queryInt(c echo.Context, name string, def int) (int, bool) {
	v := c.QueryParam(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
