package protocol

// 推送事件类型。推送为 at-most-once，消费者可通过查询接口补偿
const (
	EventHealthTransition = "health.transition"
	EventAlertRaised      = "alert.raised"
	EventAlertResolved    = "alert.resolved"
	EventClientBlocked    = "client.blocked"
	EventClientUnblocked  = "client.unblocked"
	EventAuditCompleted   = "audit.completed"
)

// Event 推送给订阅者的事件
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // 毫秒时间戳
	Data      any    `json:"data,omitempty"`
}

// HealthTransitionEvent 健康状态变化事件负载
type HealthTransitionEvent struct {
	Check string      `json:"check,omitempty"` // 为空表示整体状态变化
	From  CheckStatus `json:"from"`
	To    CheckStatus `json:"to"`
	Value float64     `json:"value,omitempty"`
}
