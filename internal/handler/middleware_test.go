package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/models"
	"github.com/dushixiang/vigil/internal/service"
	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestEcho(t *testing.T, cfg config.RateLimitConfig) *echo.Echo {
	t.Helper()

	logger := zap.NewNop()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&models.AlertRecord{}, &models.BlockedClient{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	provider := config.NewProvider("", config.Default(), logger)
	events := service.NewEventService(logger)
	alertService := service.NewAlertService(logger, db, provider, events, service.NewNotifier(logger))
	rateLimitService := service.NewRateLimitService(logger, db, cfg, alertService, events,
		service.NewGeoIPService(logger, nil))

	e := echo.New()
	e.Use(RateLimitMiddleware(rateLimitService))
	e.GET("/api/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func doRequest(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true,
		Global:  config.WindowConfig{WindowMs: 60000, MaxRequests: 3},
		Suspicion: config.SuspicionConfig{
			ObservationWindowMs:  300000,
			ScoreThreshold:       1e9,
			ViolationLimit:       1000000,
			BlockDurationMinutes: 30,
		},
	}
	e := newTestEcho(t, cfg)

	for i := 0; i < 3; i++ {
		if rec := doRequest(e, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("第%d个请求应放行, 实际 %d", i+1, rec.Code)
		}
	}

	rec := doRequest(e, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("超限请求应返回429, 实际 %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 响应应携带 Retry-After")
	}

	// 其他客户端不受影响
	if rec := doRequest(e, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("不同客户端应独立计数, 实际 %d", rec.Code)
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: false,
		Global:  config.WindowConfig{WindowMs: 1000, MaxRequests: 1},
		Suspicion: config.SuspicionConfig{
			ObservationWindowMs:  300000,
			ScoreThreshold:       1e9,
			ViolationLimit:       1000000,
			BlockDurationMinutes: 30,
		},
	}
	e := newTestEcho(t, cfg)

	for i := 0; i < 5; i++ {
		if rec := doRequest(e, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("限流关闭时所有请求都应放行, 实际 %d", rec.Code)
		}
	}
}
