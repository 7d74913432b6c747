package protocol

// 封禁原因
const (
	BlockReasonSuspicious   = "AUTO_SUSPICIOUS"
	BlockReasonRateExceeded = "AUTO_RATE_EXCEEDED"
	BlockReasonManual       = "MANUAL"
)

// 拒绝原因
const (
	DenyReasonBlocked    = "blocked"
	DenyReasonRateLimit  = "rate_limit"
	DenyReasonBurstLimit = "burst_limit"
)

// Decision 单次请求的准入判定
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// RateLimitStats 限流统计
type RateLimitStats struct {
	TotalRequests      int64 `json:"totalRequests"`
	BlockedRequests    int64 `json:"blockedRequests"`
	DDoSEvents         int64 `json:"ddosEvents"`
	BlockedClientCount int   `json:"blockedClientCount"`
}

// BlockedClient 被封禁的客户端
type BlockedClient struct {
	ClientID     string `json:"clientId"`
	Reason       string `json:"reason"`
	Country      string `json:"country,omitempty"` // GeoIP 查询结果（可选）
	BlockedAt    int64  `json:"blockedAt"`         // 毫秒时间戳
	BlockedUntil int64  `json:"blockedUntil"`      // 毫秒时间戳
}

// SuspiciousActivity 客户端可疑行为画像
type SuspiciousActivity struct {
	ClientID           string  `json:"clientId"`
	FirstSeen          int64   `json:"firstSeen"` // 毫秒时间戳
	RequestCount       int64   `json:"requestCount"`
	DistinctEndpoints  int     `json:"distinctEndpoints"`
	DistinctUserAgents int     `json:"distinctUserAgents"`
	Violations         int     `json:"violations"`
	Score              float64 `json:"score"`
}
