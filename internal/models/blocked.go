package models

// BlockedClient 被封禁的客户端（持久化，封禁跨重启生效）
type BlockedClient struct {
	ClientID     string `gorm:"primaryKey" json:"clientId"`
	Reason       string `json:"reason"` // AUTO_SUSPICIOUS / AUTO_RATE_EXCEEDED / MANUAL
	Country      string `json:"country"`
	BlockedAt    int64  `json:"blockedAt"`                                   // 毫秒时间戳
	BlockedUntil int64  `gorm:"index:idx_blocked_until" json:"blockedUntil"` // 毫秒时间戳
}

func (BlockedClient) TableName() string {
	return "blocked_clients"
}
