package config

import "time"

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Metric    MetricConfig    `yaml:"metric"`
	Health    HealthConfig    `yaml:"health"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Audit     AuditConfig     `yaml:"audit"`
	Alert     AlertConfig     `yaml:"alert"`
	GeoIP     *GeoIPConfig    `yaml:"geoip"` // GeoIP配置（可选）
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // 为空时仅输出到 stdout
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// DatabaseConfig 数据库配置（sqlite）
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// SamplerConfig 采样配置
type SamplerConfig struct {
	IntervalSeconds     int `yaml:"intervalSeconds" validate:"min=1"`     // 默认 5 秒
	ProbeTimeoutSeconds int `yaml:"probeTimeoutSeconds" validate:"min=1"` // 单个探针超时
}

// Interval 采样间隔
func (c SamplerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ProbeTimeout 单个探针超时时间
func (c SamplerConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// MetricConfig 指标存储配置
type MetricConfig struct {
	MaxSamples    int `yaml:"maxSamples" validate:"min=1"`    // 每个系列最多保留的样本数
	MaxAgeMinutes int `yaml:"maxAgeMinutes" validate:"min=1"` // 样本最长保留时间
}

// MaxAge 样本最长保留时间
func (c MetricConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMinutes) * time.Minute
}

// 阈值比较方向
const (
	DirectionHigherIsWorse = "higher_is_worse" // 使用率、延迟类指标
	DirectionLowerIsWorse  = "lower_is_worse"  // 剩余容量类指标
)

// CheckConfig 单项健康检查配置
type CheckConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Source    string  `yaml:"source" validate:"required"`
	Key       string  `yaml:"key" validate:"required"`
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Direction string  `yaml:"direction" validate:"omitempty,oneof=higher_is_worse lower_is_worse"`
	Weight    float64 `yaml:"weight"` // 默认 1
}

// HealthConfig 健康评估配置
type HealthConfig struct {
	HistorySize     int           `yaml:"historySize" validate:"min=1"`     // 默认 100
	HistoryMaxHours int           `yaml:"historyMaxHours" validate:"min=1"` // 默认 24
	Checks          []CheckConfig `yaml:"checks" validate:"required,dive"`
}

// HistoryMaxAge 快照历史最长保留时间
func (c HealthConfig) HistoryMaxAge() time.Duration {
	return time.Duration(c.HistoryMaxHours) * time.Hour
}

// WindowConfig 固定窗口限流配置。
// 该结构会经配置接口以 JSON 读写，json 标签与 yaml 保持一致
type WindowConfig struct {
	WindowMs      int64 `yaml:"windowMs" json:"windowMs" validate:"min=1"`
	MaxRequests   int   `yaml:"maxRequests" json:"maxRequests" validate:"min=1"`
	BurstWindowMs int64 `yaml:"burstWindowMs" json:"burstWindowMs"` // 0 表示关闭突发窗口
	BurstMax      int   `yaml:"burstMax" json:"burstMax"`
}

// SuspicionConfig 可疑行为评分配置
type SuspicionConfig struct {
	ObservationWindowMs  int64   `yaml:"observationWindowMs" json:"observationWindowMs" validate:"min=1"`
	ScoreThreshold       float64 `yaml:"scoreThreshold" json:"scoreThreshold" validate:"gt=0"`
	ViolationLimit       int     `yaml:"violationLimit" json:"violationLimit" validate:"min=1"`
	BlockDurationMinutes int     `yaml:"blockDurationMinutes" json:"blockDurationMinutes" validate:"min=1"`
	VelocityWeight       float64 `yaml:"velocityWeight" json:"velocityWeight"`
	EndpointWeight       float64 `yaml:"endpointWeight" json:"endpointWeight"`
	UserAgentWeight      float64 `yaml:"userAgentWeight" json:"userAgentWeight"`
}

// BlockDuration 自动封禁时长
func (c SuspicionConfig) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationMinutes) * time.Minute
}

// RateLimitConfig 限流与滥用检测配置
type RateLimitConfig struct {
	Enabled   bool                    `yaml:"enabled" json:"enabled"`
	Global    WindowConfig            `yaml:"global" json:"global" validate:"required"`
	Endpoints map[string]WindowConfig `yaml:"endpoints" json:"endpoints,omitempty" validate:"dive"`
	Suspicion SuspicionConfig         `yaml:"suspicion" json:"suspicion" validate:"required"`
}

// AuditConfig 安全审计配置
type AuditConfig struct {
	Schedule       string   `yaml:"schedule"` // cron 表达式，为空则不定时执行
	TimeoutSeconds int      `yaml:"timeoutSeconds" validate:"min=1"`
	Root           string   `yaml:"root" validate:"required"` // 审计扫描根目录
	Categories     []string `yaml:"categories"`               // 为空则审计全部分类
}

// Timeout 审计整体超时
func (c AuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NotificationChannelConfig 通知渠道配置
type NotificationChannelConfig struct {
	Type     string   `yaml:"type" validate:"required,oneof=email"`
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtpHost"`
	SMTPPort int      `yaml:"smtpPort"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// AlertConfig 告警管理配置
type AlertConfig struct {
	HistorySize int                         `yaml:"historySize" validate:"min=1"` // 内存中最多保留的告警数
	MaxAgeHours int                         `yaml:"maxAgeHours" validate:"min=1"` // 默认 24
	Channels    []NotificationChannelConfig `yaml:"channels" validate:"dive"`
}

// MaxAge 告警最长保留时间
func (c AlertConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// GeoIPConfig GeoIP配置
type GeoIPConfig struct {
	Enabled    bool   `yaml:"enabled"`    // 是否启用GeoIP查询
	DBPath     string `yaml:"dbPath"`     // GeoIP数据库文件路径（如：GeoLite2-Country.mmdb）
	DBLanguage string `yaml:"dbLanguage"` // 数据库语言（如：zh-CN、en）
}

// Default 默认配置
func Default() *AppConfig {
	return &AppConfig{
		Server:   ServerConfig{Addr: ":8090"},
		Log:      LogConfig{Level: "info", MaxSize: 50, MaxBackups: 3, MaxAge: 7},
		Database: DatabaseConfig{Path: "vigil.db"},
		Sampler:  SamplerConfig{IntervalSeconds: 5, ProbeTimeoutSeconds: 3},
		Metric:   MetricConfig{MaxSamples: 720, MaxAgeMinutes: 60},
		Health: HealthConfig{
			HistorySize:     100,
			HistoryMaxHours: 24,
			Checks: []CheckConfig{
				{Name: "cpu.usage", Source: "system.cpu", Key: "usage_percent", Warning: 70, Critical: 90, Direction: DirectionHigherIsWorse, Weight: 1},
				{Name: "memory.usage", Source: "system.memory", Key: "usage_percent", Warning: 80, Critical: 95, Direction: DirectionHigherIsWorse, Weight: 1},
				{Name: "disk.usage", Source: "system.disk", Key: "usage_percent", Warning: 85, Critical: 95, Direction: DirectionHigherIsWorse, Weight: 1},
				{Name: "process.heap", Source: "process.memory", Key: "heap_mb", Warning: 512, Critical: 1024, Direction: DirectionHigherIsWorse, Weight: 1},
				{Name: "scheduler.lag", Source: "eventloop.lag", Key: "lag_ms", Warning: 50, Critical: 200, Direction: DirectionHigherIsWorse, Weight: 1},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Global: WindowConfig{
				WindowMs:      60000,
				MaxRequests:   600,
				BurstWindowMs: 1000,
				BurstMax:      50,
			},
			Suspicion: SuspicionConfig{
				ObservationWindowMs:  300000,
				ScoreThreshold:       100,
				ViolationLimit:       10,
				BlockDurationMinutes: 30,
				VelocityWeight:       1,
				EndpointWeight:       2,
				UserAgentWeight:      5,
			},
		},
		Audit: AuditConfig{
			Schedule:       "0 0 3 * * *", // 每天凌晨 3 点
			TimeoutSeconds: 300,
			Root:           ".",
		},
		Alert: AlertConfig{
			HistorySize: 500,
			MaxAgeHours: 24,
		},
	}
}
