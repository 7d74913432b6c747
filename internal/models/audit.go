package models

import "gorm.io/datatypes"

// AuditRecord 审计报告记录。汇总列用于列表查询，
// 完整报告以 JSON 形式保存在 Report 列。
type AuditRecord struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	Timestamp   int64          `gorm:"index:idx_audit_ts" json:"timestamp"` // 毫秒时间戳
	DurationMs  int64          `json:"durationMs"`
	OverallRisk string         `json:"overallRisk"`
	Partial     bool           `json:"partial"`
	Critical    int            `json:"critical"`
	High        int            `json:"high"`
	Medium      int            `json:"medium"`
	Low         int            `json:"low"`
	Total       int            `json:"total"`
	Report      datatypes.JSON `json:"report"` // 完整的 protocol.AuditReport
}

func (AuditRecord) TableName() string {
	return "audit_records"
}
