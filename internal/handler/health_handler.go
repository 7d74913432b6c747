package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HealthHandler 健康评估处理器
type HealthHandler struct {
	logger  *zap.Logger
	service *service.HealthService
}

// NewHealthHandler 创建处理器
func NewHealthHandler(logger *zap.Logger, service *service.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		service: service,
	}
}

// GetHealth 获取当前健康快照
// GET /api/health
func (h *HealthHandler) GetHealth(c echo.Context) error {
	snapshot := h.service.Current(c.Request().Context())
	if snapshot == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "健康评估暂不可用",
		})
	}
	return c.JSON(http.StatusOK, snapshot)
}

// GetLastGood 获取最近一次成功评估的快照
// GET /api/health/last-good
func (h *HealthHandler) GetLastGood(c echo.Context) error {
	snapshot := h.service.LastGood()
	if snapshot == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "暂无健康快照",
		})
	}
	return c.JSON(http.StatusOK, snapshot)
}

// GetHistory 查询健康快照历史
// GET /api/health/history?limit=50&range=1h
func (h *HealthHandler) GetHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	window, _ := parseRange(c, 24*time.Hour)

	snapshots := h.service.History(limit, window)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": snapshots,
		"total": len(snapshots),
	})
}

// Check 立即执行一次健康评估
// POST /api/health/check
func (h *HealthHandler) Check(c echo.Context) error {
	snapshot := h.service.Evaluate(c.Request().Context())
	if snapshot == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "健康评估暂不可用",
		})
	}
	return c.JSON(http.StatusOK, snapshot)
}
