package protocol

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Rank 告警级别排序（critical > warning > info）
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// 告警分类
const (
	AlertCategoryHealth    = "health"
	AlertCategoryRateLimit = "ratelimit"
	AlertCategoryAudit     = "audit"
	AlertCategoryInternal  = "internal"
)

// Alert 告警条目。resolved 之外的字段写入后不再变更，
// 去重命中时仅更新 Timestamp/Value/Message/Count。
type Alert struct {
	ID         string        `json:"id"`
	Severity   AlertSeverity `json:"severity"`
	Category   string        `json:"category"`
	SourceKey  string        `json:"sourceKey"`
	Message    string        `json:"message"`
	Value      float64       `json:"value,omitempty"`
	Count      int           `json:"count"`     // 去重合并的触发次数
	Timestamp  int64         `json:"timestamp"` // 最近一次触发时间（毫秒）
	FiredAt    int64         `json:"firedAt"`   // 首次触发时间（毫秒）
	DedupeKey  string        `json:"dedupeKey"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt int64         `json:"resolvedAt,omitempty"`
}

// AlertFilter 告警查询过滤条件
type AlertFilter struct {
	Severity string `json:"severity,omitempty"`
	Category string `json:"category,omitempty"`
	Resolved *bool  `json:"resolved,omitempty"`
}
