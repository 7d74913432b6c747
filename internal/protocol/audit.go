package protocol

// AuditSeverity 审计发现的严重程度
type AuditSeverity string

const (
	AuditSeverityCritical AuditSeverity = "critical"
	AuditSeverityHigh     AuditSeverity = "high"
	AuditSeverityMedium   AuditSeverity = "medium"
	AuditSeverityLow      AuditSeverity = "low"
)

// Rank 严重程度排序
func (s AuditSeverity) Rank() int {
	switch s {
	case AuditSeverityCritical:
		return 4
	case AuditSeverityHigh:
		return 3
	case AuditSeverityMedium:
		return 2
	case AuditSeverityLow:
		return 1
	default:
		return 0
	}
}

// 审计分类状态
const (
	CategoryStatusComplete   = "complete"
	CategoryStatusIncomplete = "incomplete" // 扫描失败、超时或被取消
)

// Finding 单条审计发现
type Finding struct {
	Category string        `json:"category"`
	Severity AuditSeverity `json:"severity"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Evidence string        `json:"evidence,omitempty"`
}

// CategoryResult 单个审计分类的结果
type CategoryResult struct {
	Name        string                `json:"name"`
	Status      string                `json:"status"` // complete / incomplete
	Error       string                `json:"error,omitempty"`
	Findings    []Finding             `json:"findings"`
	IssueCounts map[AuditSeverity]int `json:"issueCounts"`
}

// AuditSummary 按严重程度汇总（从 findings 派生，不单独存储）
type AuditSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// AuditReport 一次审计产生的报告（生成后不可变）
type AuditReport struct {
	ID              string           `json:"id"`
	Timestamp       int64            `json:"timestamp"` // 毫秒时间戳
	DurationMs      int64            `json:"durationMs"`
	Categories      []CategoryResult `json:"categories"` // 按名称排序
	Summary         AuditSummary     `json:"summary"`
	OverallRisk     AuditSeverity    `json:"overallRisk,omitempty"` // 为空表示无发现
	Partial         bool             `json:"partial"`               // 存在 incomplete 分类
	Recommendations []string         `json:"recommendations"`
}

// AuditOptions 按需审计选项
type AuditOptions struct {
	Categories     []string `json:"categories,omitempty"` // 为空审计全部分类
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
}
