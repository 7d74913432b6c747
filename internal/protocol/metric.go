package protocol

// SampleStatus 样本状态
type SampleStatus string

const (
	SampleStatusOK      SampleStatus = "ok"
	SampleStatusUnknown SampleStatus = "unknown" // 探测失败，值不可用
)

// 内置指标来源
const (
	SourceSystemCPU     = "system.cpu"
	SourceSystemMemory  = "system.memory"
	SourceSystemDisk    = "system.disk"
	SourceSystemLoad    = "system.load"
	SourceProcessMemory = "process.memory"
	SourceEventLoop     = "eventloop.lag"
)

// MetricSample 单个指标样本（写入后不可变）
type MetricSample struct {
	Source    string       `json:"source"`
	Key       string       `json:"key"`
	Value     float64      `json:"value"`
	Status    SampleStatus `json:"status,omitempty"`
	Timestamp int64        `json:"timestamp"` // 毫秒时间戳
}

// MetricSeriesView 指标系列的查询视图
type MetricSeriesView struct {
	Source  string         `json:"source"`
	Key     string         `json:"key"`
	Samples []MetricSample `json:"samples"` // 按时间升序
}

// GetMetricsResponse 统一的查询响应格式
type GetMetricsResponse struct {
	Range  string             `json:"range"`
	Series []MetricSeriesView `json:"series"`
}
