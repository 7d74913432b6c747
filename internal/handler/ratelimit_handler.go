package handler

import (
	"net/http"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RateLimitHandler 限流与封禁处理器
type RateLimitHandler struct {
	logger  *zap.Logger
	service *service.RateLimitService
}

// NewRateLimitHandler 创建处理器
func NewRateLimitHandler(logger *zap.Logger, service *service.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{
		logger:  logger,
		service: service,
	}
}

// GetStats 限流统计
// GET /api/ratelimit/stats
func (h *RateLimitHandler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Stats())
}

// GetConfig 获取当前限流配置
// GET /api/ratelimit/config
func (h *RateLimitHandler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.GetConfig())
}

// UpdateConfig 运行时更新限流配置，非法配置被拒绝且保留旧配置
// PUT /api/ratelimit/config
func (h *RateLimitHandler) UpdateConfig(c echo.Context) error {
	var cfg config.RateLimitConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	if err := h.service.SetConfig(cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "配置校验失败: " + err.Error(),
		})
	}

	h.logger.Info("限流配置已更新")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "配置已生效",
		"config":  h.service.GetConfig(),
	})
}

// ListBlocked 当前有效的封禁列表
// GET /api/ratelimit/blocked
func (h *RateLimitHandler) ListBlocked(c echo.Context) error {
	blocked := h.service.BlockedClients()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": blocked,
		"total": len(blocked),
	})
}

// ListSuspicious 可疑客户端画像，按评分倒序
// GET /api/ratelimit/suspicious
func (h *RateLimitHandler) ListSuspicious(c echo.Context) error {
	suspicious := h.service.Suspicious()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": suspicious,
		"total": len(suspicious),
	})
}

// BlockClient 手动封禁客户端
// POST /api/ratelimit/block
func (h *RateLimitHandler) BlockClient(c echo.Context) error {
	var req struct {
		ClientID        string `json:"clientId"`
		DurationMinutes int    `json:"durationMinutes"`
	}
	if err := c.Bind(&req); err != nil || req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "clientId 不能为空",
		})
	}
	if req.DurationMinutes < 1 {
		req.DurationMinutes = 30
	}

	blocked := h.service.Block(c.Request().Context(), req.ClientID,
		time.Duration(req.DurationMinutes)*time.Minute, protocol.BlockReasonManual)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "封禁成功",
		"blocked": blocked,
	})
}

// UnblockClient 手动解封客户端，同时清空其可疑评分
// POST /api/ratelimit/unblock
func (h *RateLimitHandler) UnblockClient(c echo.Context) error {
	var req struct {
		ClientID string `json:"clientId"`
	}
	if err := c.Bind(&req); err != nil || req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "clientId 不能为空",
		})
	}

	if !h.service.Unblock(c.Request().Context(), req.ClientID) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "客户端未被封禁",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "解封成功",
	})
}
