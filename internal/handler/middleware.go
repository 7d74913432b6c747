package handler

import (
	"net/http"
	"strconv"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
)

// RateLimitMiddleware 请求准入网关。每个请求先经过限流判定，
// 客户端标识取真实 IP，端点取路由路径。
func RateLimitMiddleware(rateLimitService *service.RateLimitService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rateLimitService.GetConfig().Enabled {
				return next(c)
			}

			decision := rateLimitService.Admit(c.RealIP(), c.Path(), c.Request().UserAgent())
			if decision.Allowed {
				return next(c)
			}

			if decision.RetryAfterMs > 0 {
				seconds := (decision.RetryAfterMs + 999) / 1000
				c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			}

			status := http.StatusTooManyRequests
			message := "请求过于频繁，请稍后再试"
			if decision.Reason == protocol.DenyReasonBlocked {
				status = http.StatusForbidden
				message = "客户端已被封禁"
			}
			return c.JSON(status, map[string]interface{}{
				"error":        message,
				"reason":       decision.Reason,
				"retryAfterMs": decision.RetryAfterMs,
			})
		}
	}
}
