package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AlertHandler 告警处理器
type AlertHandler struct {
	logger  *zap.Logger
	service *service.AlertService
}

// NewAlertHandler 创建处理器
func NewAlertHandler(logger *zap.Logger, service *service.AlertService) *AlertHandler {
	return &AlertHandler{
		logger:  logger,
		service: service,
	}
}

// ListAlerts 查询告警
// GET /api/alerts?range=1h&severity=critical&category=health&resolved=false
func (h *AlertHandler) ListAlerts(c echo.Context) error {
	window, _ := parseRange(c, 24*time.Hour)

	filter := protocol.AlertFilter{
		Severity: c.QueryParam("severity"),
		Category: c.QueryParam("category"),
	}
	if raw := c.QueryParam("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "resolved 参数错误",
			})
		}
		filter.Resolved = &resolved
	}

	alerts := h.service.Query(window, filter)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":       alerts,
		"total":       len(alerts),
		"activeCount": h.service.ActiveCount(),
	})
}

// ResolveAlert 手动解除告警
// POST /api/alerts/:id/resolve
func (h *AlertHandler) ResolveAlert(c echo.Context) error {
	alertID := c.Param("id")
	if alertID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "告警ID不能为空",
		})
	}

	alert, ok := h.service.Resolve(c.Request().Context(), alertID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "告警不存在或已解除",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "告警已解除",
		"alert":   alert,
	})
}

// ClearAlerts 清空告警
// DELETE /api/alerts
func (h *AlertHandler) ClearAlerts(c echo.Context) error {
	if err := h.service.Clear(c.Request().Context()); err != nil {
		h.logger.Error("清空告警失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "清空失败",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "清空成功",
	})
}
