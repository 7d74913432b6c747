package audit

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// secretKeyPattern 形如 password: xxx / secret = "xxx" 的配置行
var secretKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|private[_-]?key)\s*[:=]\s*\S`)

// placeholderPattern 占位符不算泄露
var placeholderPattern = regexp.MustCompile(`(?i)[:=]\s*["']?(\$\{|\$[A-Z_]|<|\{\{|your[_-]|changeme|example|xxx+["']?\s*$)`)

// ConfigChecker 配置安全检查器
type ConfigChecker struct{}

// NewConfigChecker 创建配置检查器
func NewConfigChecker() *ConfigChecker {
	return &ConfigChecker{}
}

func (c *ConfigChecker) Name() string {
	return CategoryConfig
}

// Check 检查配置文件中的明文凭据和危险开关
func (c *ConfigChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	var findings []protocol.Finding

	err := walkFiles(ctx, fs, root, func(path string, info os.FileInfo) error {
		if info.Size() > maxScanFileSize {
			return nil
		}
		isEnv := strings.HasPrefix(info.Name(), ".env")
		if !isEnv && !hasSuffix(path, ".yaml", ".yml", ".json", ".toml", ".ini", ".properties") {
			return nil
		}

		return scanLines(fs, path, func(lineNo int, line string) {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
				return
			}

			if secretKeyPattern.MatchString(trimmed) && !placeholderPattern.MatchString(trimmed) {
				findings = append(findings, protocol.Finding{
					Category: CategoryConfig,
					Severity: protocol.AuditSeverityHigh,
					Title:    "配置文件中的明文凭据",
					Message:  "配置文件疑似包含明文密码/密钥，应改用环境变量或密钥管理",
					Evidence: evidence(path, lineNo),
				})
			}

			lower := strings.ToLower(trimmed)
			if strings.Contains(lower, "debug") && (strings.Contains(lower, ": true") || strings.Contains(lower, "=true") || strings.Contains(lower, "= true")) {
				findings = append(findings, protocol.Finding{
					Category: CategoryConfig,
					Severity: protocol.AuditSeverityLow,
					Title:    "调试开关开启",
					Message:  "配置开启了 debug 模式，生产环境可能泄露内部信息",
					Evidence: evidence(path, lineNo),
				})
			}
		})
	})
	if err != nil {
		return nil, err
	}

	sortFindings(findings)
	return findings, nil
}
