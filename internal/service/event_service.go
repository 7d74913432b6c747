package service

import (
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventService 推送事件中心。投递语义为 at-most-once：
// 发送缓冲满的慢消费者直接丢弃事件，状态以查询接口为准。
type EventService struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan protocol.Event
	once sync.Once
	done chan struct{}
}

// NewEventService 创建事件服务
func NewEventService(logger *zap.Logger) *EventService {
	return &EventService{
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish 向所有订阅者推送事件（非阻塞）
func (s *EventService) Publish(eventType string, data any) {
	event := protocol.Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers {
		select {
		case sub.send <- event:
		default:
			// 慢消费者，丢弃本条事件
			s.logger.Debug("订阅者缓冲已满，丢弃事件", zap.String("type", eventType))
		}
	}
}

// SubscriberCount 当前订阅者数量
func (s *EventService) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// ServeConn 接管一个 websocket 连接，阻塞直到连接关闭
func (s *EventService) ServeConn(conn *websocket.Conn) {
	sub := &subscriber{
		conn: conn,
		send: make(chan protocol.Event, 64),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("事件订阅者已连接", zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(sub)
	s.readPump(sub)

	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()

	sub.close()
	s.logger.Info("事件订阅者已断开", zap.String("remote", conn.RemoteAddr().String()))
}

func (sub *subscriber) close() {
	sub.once.Do(func() {
		close(sub.done)
		_ = sub.conn.Close()
	})
}

// readPump 仅消费控制帧，收到错误即认为连接断开
func (s *EventService) readPump(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventService) writePump(sub *subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteJSON(event); err != nil {
				sub.close()
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				return
			}
		}
	}
}
