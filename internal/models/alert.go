package models

// AlertRecord 告警记录（内存态的持久化镜像，重启后可回放历史）
type AlertRecord struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	Severity   string  `json:"severity"` // info / warning / critical
	Category   string  `gorm:"index:idx_alert_category" json:"category"`
	SourceKey  string  `json:"sourceKey"`
	DedupeKey  string  `gorm:"index:idx_alert_dedupe" json:"dedupeKey"`
	Message    string  `json:"message"`
	Value      float64 `json:"value"`
	Count      int     `json:"count"` // 去重合并的触发次数
	Resolved   bool    `json:"resolved"`
	FiredAt    int64   `json:"firedAt"`                             // 首次触发时间（毫秒）
	Timestamp  int64   `gorm:"index:idx_alert_ts" json:"timestamp"` // 最近触发时间（毫秒）
	ResolvedAt int64   `json:"resolvedAt"`                          // 恢复时间（毫秒）
}

func (AlertRecord) TableName() string {
	return "alert_records"
}
