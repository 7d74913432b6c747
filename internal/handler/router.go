package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Metric    *MetricHandler
	Health    *HealthHandler
	Alert     *AlertHandler
	RateLimit *RateLimitHandler
	Audit     *AuditHandler
	Event     *EventHandler
	Export    *ExportHandler
}

// Register 注册全部路由。限流网关作用于整个 API，
// 解封接口除外，避免管理端把自己锁在外面。
func Register(e *echo.Echo, h *Handlers, rateLimitMiddleware echo.MiddlewareFunc) {
	e.Use(middleware.Recover())

	// 解封与配置修复接口绕过限流网关
	admin := e.Group("/api/ratelimit")
	admin.POST("/unblock", h.RateLimit.UnblockClient)
	admin.PUT("/config", h.RateLimit.UpdateConfig)

	api := e.Group("/api", rateLimitMiddleware)

	api.GET("/metrics", h.Metric.GetMetrics)
	api.GET("/metrics/latest", h.Metric.GetLatest)
	api.GET("/metrics/series", h.Metric.ListSeries)

	api.GET("/health", h.Health.GetHealth)
	api.GET("/health/last-good", h.Health.GetLastGood)
	api.GET("/health/history", h.Health.GetHistory)
	api.POST("/health/check", h.Health.Check)

	api.GET("/alerts", h.Alert.ListAlerts)
	api.POST("/alerts/:id/resolve", h.Alert.ResolveAlert)
	api.DELETE("/alerts", h.Alert.ClearAlerts)

	api.GET("/ratelimit/stats", h.RateLimit.GetStats)
	api.GET("/ratelimit/config", h.RateLimit.GetConfig)
	api.GET("/ratelimit/blocked", h.RateLimit.ListBlocked)
	api.GET("/ratelimit/suspicious", h.RateLimit.ListSuspicious)
	api.POST("/ratelimit/block", h.RateLimit.BlockClient)

	api.POST("/audit", h.Audit.PerformAudit)
	api.POST("/audit/cancel", h.Audit.CancelAudit)
	api.GET("/audit/latest", h.Audit.GetLatest)
	api.GET("/audit/history", h.Audit.GetHistory)
	api.GET("/audit/:id", h.Audit.GetReport)

	api.GET("/export/metrics", h.Export.ExportMetrics)
	api.GET("/export/health", h.Export.ExportHealth)
	api.GET("/export/audit", h.Export.ExportAudit)
	api.GET("/export/ratelimit", h.Export.ExportRateLimit)

	api.GET("/events", h.Event.Subscribe)
}
