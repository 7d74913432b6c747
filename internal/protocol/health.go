package protocol

// CheckStatus 健康检查状态
type CheckStatus string

const (
	StatusHealthy  CheckStatus = "healthy"
	StatusWarning  CheckStatus = "warning"
	StatusCritical CheckStatus = "critical"
	StatusUnknown  CheckStatus = "unknown"
)

// Rank 状态严重程度排序（critical > warning > healthy > unknown）
// unknown 不致命但需要标记，排在 healthy 之下
func (s CheckStatus) Rank() int {
	switch s {
	case StatusCritical:
		return 3
	case StatusWarning:
		return 2
	case StatusHealthy:
		return 1
	default:
		return 0
	}
}

// Score 状态对应的分数
func (s CheckStatus) Score() float64 {
	switch s {
	case StatusHealthy:
		return 100
	case StatusWarning:
		return 70
	case StatusCritical:
		return 30
	default:
		return 0
	}
}

// CheckResult 单项检查结果
type CheckResult struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	Value     float64     `json:"value"`
	Warning   float64     `json:"warning"`
	Critical  float64     `json:"critical"`
	Timestamp int64       `json:"timestamp"` // 样本时间戳（毫秒）
}

// HealthSnapshot 一次评估周期产生的健康快照（不可变）
type HealthSnapshot struct {
	Overall    CheckStatus   `json:"overall"`
	Score      int           `json:"score"` // 0..100
	Checks     []CheckResult `json:"checks"`
	Timestamp  int64         `json:"timestamp"` // 毫秒时间戳
	DurationMs int64         `json:"durationMs"`
}
