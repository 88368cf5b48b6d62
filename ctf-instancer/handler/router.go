package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kavos113/quickctf/lib/logger"
)

type RouterConfig struct {
	Catalog     Catalog
	Credentials Credentials
	Observer    RequestObserver
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(logger.EchoMiddleware(cfg.Logger))
	e.Use(BasicAuth(cfg.Credentials))

	ih := NewInstanceHandler(cfg.Catalog, cfg.Observer, cfg.Logger)

	e.GET("/start/:user/:challenge", ih.Start)
	e.GET("/status/:user/:challenge", ih.Status)
	e.GET("/stop/:user/:challenge", ih.Stop)

	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	return e
}
