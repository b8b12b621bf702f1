package server

import (
	"net/http"

	"farmstore/internal/config"
	"farmstore/internal/handler"
	"farmstore/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers はルート登録に必要なhandler一式。
type Handlers struct {
	Products      *handler.ProductHandler
	AdminProducts *handler.AdminProductHandler
	Checkout      *handler.CheckoutHandler
	Orders        *handler.OrderHandler
	AdminOrders   *handler.AdminOrderHandler
	Inventory     *handler.InventoryHandler
	Payments      *handler.PaymentHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, m *metrics.Metrics, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})))
	}

	//公開
	h.Products.RegisterRoutes(e)
	h.Checkout.RegisterRoutes(e)
	h.Payments.RegisterRoutes(e, cfg)

	//スタッフ・管理者
	h.Orders.RegisterRoutes(e, cfg)
	h.Inventory.RegisterRoutes(e, cfg)
	h.AdminProducts.RegisterRoutes(e, cfg)
	h.AdminOrders.RegisterRoutes(e, cfg)
}
