package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"farmstore/internal/config"
	"farmstore/internal/metrics"
	"farmstore/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	e      *echo.Echo
	addr   string
	logger *zap.Logger
}

func New(cfg config.Config, logger *zap.Logger, m *metrics.Metrics, h Handlers) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger, m))

	RegisterRoutes(e, cfg, m, h)

	return &Server{e: e, addr: cfg.Addr(), logger: logger}
}

// Echo はテストでhttptestに渡すため
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start blocks until the server stops. A normal Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
