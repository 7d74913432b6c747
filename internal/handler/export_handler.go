package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ExportHandler 数据导出处理器，导出为 JSON 附件
type ExportHandler struct {
	logger           *zap.Logger
	store            *metric.Store
	healthService    *service.HealthService
	auditService     *service.AuditService
	rateLimitService *service.RateLimitService
}

// NewExportHandler 创建处理器
func NewExportHandler(logger *zap.Logger, store *metric.Store, healthService *service.HealthService, auditService *service.AuditService, rateLimitService *service.RateLimitService) *ExportHandler {
	return &ExportHandler{
		logger:           logger,
		store:            store,
		healthService:    healthService,
		auditService:     auditService,
		rateLimitService: rateLimitService,
	}
}

func attachment(c echo.Context, name string) {
	filename := fmt.Sprintf("%s-%s.json", name, time.Now().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, filename))
}

// ExportMetrics 导出指标数据
// GET /api/export/metrics?range=1h
func (h *ExportHandler) ExportMetrics(c echo.Context) error {
	window, rangeLabel := parseRange(c, time.Hour)
	attachment(c, "metrics")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UnixMilli(),
		"range":      rangeLabel,
		"series":     h.store.Export(window),
	})
}

// ExportHealth 导出健康快照历史
// GET /api/export/health?range=24h
func (h *ExportHandler) ExportHealth(c echo.Context) error {
	window, rangeLabel := parseRange(c, 24*time.Hour)
	attachment(c, "health")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UnixMilli(),
		"range":      rangeLabel,
		"current":    h.healthService.LastGood(),
		"history":    h.healthService.History(1000, window),
	})
}

// ExportAudit 导出全部审计报告
// GET /api/export/audit
func (h *ExportHandler) ExportAudit(c echo.Context) error {
	reports, err := h.auditService.History(c.Request().Context())
	if err != nil {
		h.logger.Error("导出审计报告失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "导出失败",
		})
	}
	attachment(c, "audit")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UnixMilli(),
		"reports":    reports,
	})
}

// ExportRateLimit 导出限流统计与封禁数据
// GET /api/export/ratelimit
func (h *ExportHandler) ExportRateLimit(c echo.Context) error {
	attachment(c, "ratelimit")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UnixMilli(),
		"stats":      h.rateLimitService.Stats(),
		"blocked":    h.rateLimitService.BlockedClients(),
		"suspicious": h.rateLimitService.Suspicious(),
	})
}
