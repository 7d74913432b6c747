package handler

import (
	"net/http"

	"github.com/dushixiang/vigil/internal/service"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventHandler 推送事件处理器
type EventHandler struct {
	logger  *zap.Logger
	service *service.EventService
}

// NewEventHandler 创建处理器
func NewEventHandler(logger *zap.Logger, service *service.EventService) *EventHandler {
	return &EventHandler{
		logger:  logger,
		service: service,
	}
}

// Subscribe 升级为 websocket 并订阅事件流
// GET /api/events
func (h *EventHandler) Subscribe(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket升级失败", zap.Error(err))
		return err
	}

	// ServeConn 阻塞到连接关闭
	h.service.ServeConn(conn)
	return nil
}
