package audit

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// sqlConcatPattern SQL 语句里的字符串拼接
var sqlConcatPattern = regexp.MustCompile(`(?i)(Sprintf|\+)\s*.*\b(select|insert|update|delete)\b.+\b(from|into|set|where)\b`)

// execConcatPattern 命令执行参数里的字符串拼接
var execConcatPattern = regexp.MustCompile(`exec\.Command(Context)?\([^)]*\+`)

// InputChecker 输入处理安全检查器
type InputChecker struct{}

// NewInputChecker 创建输入处理检查器
func NewInputChecker() *InputChecker {
	return &InputChecker{}
}

func (c *InputChecker) Name() string {
	return CategoryInput
}

// Check 检查源代码中的注入风险模式
func (c *InputChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	var findings []protocol.Finding

	err := walkFiles(ctx, fs, root, func(path string, info os.FileInfo) error {
		if info.Size() > maxScanFileSize || !hasSuffix(path, ".go") {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") {
			return nil
		}

		return scanLines(fs, path, func(lineNo int, line string) {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") {
				return
			}

			if sqlConcatPattern.MatchString(trimmed) {
				findings = append(findings, protocol.Finding{
					Category: CategoryInput,
					Severity: protocol.AuditSeverityHigh,
					Title:    "SQL 语句拼接",
					Message:  "SQL 语句通过字符串拼接构造，存在注入风险，应使用参数绑定",
					Evidence: evidence(path, lineNo),
				})
			}

			if execConcatPattern.MatchString(trimmed) {
				findings = append(findings, protocol.Finding{
					Category: CategoryInput,
					Severity: protocol.AuditSeverityHigh,
					Title:    "命令参数拼接",
					Message:  "外部命令参数通过字符串拼接构造，存在命令注入风险",
					Evidence: evidence(path, lineNo),
				})
			}

			if strings.Contains(trimmed, "md5.Sum") || strings.Contains(trimmed, "sha1.Sum") {
				findings = append(findings, protocol.Finding{
					Category: CategoryInput,
					Severity: protocol.AuditSeverityMedium,
					Title:    "弱哈希算法",
					Message:  "使用 MD5/SHA1 等弱哈希算法，不应用于任何安全敏感场景",
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
