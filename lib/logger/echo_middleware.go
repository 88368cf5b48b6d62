package logger

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// EchoMiddleware logs one line per HTTP request after the handler returns.
func EchoMiddleware(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			attrs := []any{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("route", c.Path()),
				slog.String("client_ip", c.RealIP()),
				slog.String("user_agent", req.UserAgent()),
				slog.Time("start_time", start),
				slog.Duration("duration", time.Since(start)),
				slog.Int("status_code", c.Response().Status),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			logger.Info("HTTP Request", attrs...)

			return nil
		}
	}
}
