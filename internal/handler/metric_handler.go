package handler

import (
	"net/http"
	"time"

	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// MetricHandler 指标查询处理器
type MetricHandler struct {
	logger *zap.Logger
	store  *metric.Store
}

// NewMetricHandler 创建处理器
func NewMetricHandler(logger *zap.Logger, store *metric.Store) *MetricHandler {
	return &MetricHandler{
		logger: logger,
		store:  store,
	}
}

// parseRange 解析时间范围参数，默认 5 分钟
func parseRange(c echo.Context, fallback time.Duration) (time.Duration, string) {
	raw := c.QueryParam("range")
	if raw == "" {
		return fallback, fallback.String()
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return fallback, fallback.String()
	}
	return window, raw
}

// GetMetrics 查询指标
// GET /api/metrics?source=system.cpu&key=usage_percent&range=5m
func (h *MetricHandler) GetMetrics(c echo.Context) error {
	window, rangeLabel := parseRange(c, 5*time.Minute)

	source := c.QueryParam("source")
	key := c.QueryParam("key")

	// 指定了 source 和 key 时只返回单个系列，否则返回全部
	var series []protocol.MetricSeriesView
	if source != "" && key != "" {
		samples := h.store.Query(source, key, window)
		series = []protocol.MetricSeriesView{
			{Source: source, Key: key, Samples: samples},
		}
	} else {
		series = h.store.Export(window)
	}

	return c.JSON(http.StatusOK, protocol.GetMetricsResponse{
		Range:  rangeLabel,
		Series: series,
	})
}

// GetLatest 查询最新样本
// GET /api/metrics/latest?source=system.cpu&key=usage_percent
func (h *MetricHandler) GetLatest(c echo.Context) error {
	source := c.QueryParam("source")
	key := c.QueryParam("key")
	if source == "" || key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "source 和 key 不能为空",
		})
	}

	sample, ok := h.store.Latest(source, key)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "指标系列不存在",
		})
	}
	return c.JSON(http.StatusOK, sample)
}

// ListSeries 枚举全部指标系列
// GET /api/metrics/series
func (h *MetricHandler) ListSeries(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Series())
}
