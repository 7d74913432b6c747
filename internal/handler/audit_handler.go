package handler

import (
	"errors"
	"net/http"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditHandler 安全审计处理器
type AuditHandler struct {
	logger  *zap.Logger
	service *service.AuditService
}

// NewAuditHandler 创建处理器
func NewAuditHandler(logger *zap.Logger, service *service.AuditService) *AuditHandler {
	return &AuditHandler{
		logger:  logger,
		service: service,
	}
}

// PerformAudit 按需执行一次审计
// POST /api/audit
func (h *AuditHandler) PerformAudit(c echo.Context) error {
	var opts protocol.AuditOptions
	if err := c.Bind(&opts); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	report, err := h.service.PerformAudit(c.Request().Context(), opts)
	if err != nil {
		if errors.Is(err, service.ErrAuditRunning) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error": "审计正在进行中",
			})
		}
		h.logger.Error("执行审计失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "执行审计失败",
		})
	}
	return c.JSON(http.StatusOK, report)
}

// CancelAudit 取消正在运行的审计
// POST /api/audit/cancel
func (h *AuditHandler) CancelAudit(c echo.Context) error {
	if !h.service.Cancel() {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "没有正在运行的审计",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "审计已取消，已完成的分类仍会保留在部分报告中",
	})
}

// GetLatest 最近一次审计报告
// GET /api/audit/latest
func (h *AuditHandler) GetLatest(c echo.Context) error {
	report, err := h.service.Latest(c.Request().Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "暂无审计报告",
			})
		}
		h.logger.Error("查询审计报告失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}
	return c.JSON(http.StatusOK, report)
}

// GetHistory 审计报告历史，按时间倒序
// GET /api/audit/history
func (h *AuditHandler) GetHistory(c echo.Context) error {
	reports, err := h.service.History(c.Request().Context())
	if err != nil {
		h.logger.Error("查询审计历史失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": reports,
		"total": len(reports),
	})
}

// GetReport 按 ID 查询审计报告
// GET /api/audit/:id
func (h *AuditHandler) GetReport(c echo.Context) error {
	auditID := c.Param("id")
	if auditID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "审计ID不能为空",
		})
	}

	report, err := h.service.GetById(c.Request().Context(), auditID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "审计报告不存在",
			})
		}
		h.logger.Error("查询审计报告失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}
	return c.JSON(http.StatusOK, report)
}
