package audit

import (
	"context"
	"os"
	"strings"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// NetworkChecker 网络暴露检查器
type NetworkChecker struct{}

// NewNetworkChecker 创建网络检查器
func NewNetworkChecker() *NetworkChecker {
	return &NetworkChecker{}
}

func (c *NetworkChecker) Name() string {
	return CategoryNetwork
}

// Check 检查网络暴露面和 TLS 配置
func (c *NetworkChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	var findings []protocol.Finding

	err := walkFiles(ctx, fs, root, func(path string, info os.FileInfo) error {
		if info.Size() > maxScanFileSize {
			return nil
		}
		isGoSrc := hasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
		isConf := hasSuffix(path, ".yaml", ".yml", ".json", ".toml")
		if !isGoSrc && !isConf {
			return nil
		}

		return scanLines(fs, path, func(lineNo int, line string) {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
				return
			}

			if isGoSrc && strings.Contains(trimmed, "InsecureSkipVerify: true") {
				findings = append(findings, protocol.Finding{
					Category: CategoryNetwork,
					Severity: protocol.AuditSeverityHigh,
					Title:    "跳过 TLS 证书校验",
					Message:  "InsecureSkipVerify 关闭了证书校验，连接可被中间人劫持",
					Evidence: evidence(path, lineNo),
				})
			}

			if isConf && strings.Contains(trimmed, "0.0.0.0") {
				findings = append(findings, protocol.Finding{
					Category: CategoryNetwork,
					Severity: protocol.AuditSeverityMedium,
					Title:    "服务监听所有网卡",
					Message:  "服务绑定 0.0.0.0，确认是否需要对外暴露，建议收敛监听地址",
					Evidence: evidence(path, lineNo),
				})
			}

			if strings.Contains(trimmed, "http://") && !strings.Contains(trimmed, "localhost") && !strings.Contains(trimmed, "127.0.0.1") {
				findings = append(findings, protocol.Finding{
					Category: CategoryNetwork,
					Severity: protocol.AuditSeverityLow,
					Title:    "明文 HTTP 地址",
					Message:  "使用明文 HTTP 访问外部地址，传输内容可被窃听",
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
