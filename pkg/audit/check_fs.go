package audit

import (
	"context"
	"os"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// FilesystemChecker 文件权限检查器
type FilesystemChecker struct{}

// NewFilesystemChecker 创建文件权限检查器
func NewFilesystemChecker() *FilesystemChecker {
	return &FilesystemChecker{}
}

func (c *FilesystemChecker) Name() string {
	return CategoryFilesystem
}

// Check 检查敏感文件的权限
func (c *FilesystemChecker) Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error) {
	var findings []protocol.Finding

	err := walkFiles(ctx, fs, root, func(path string, info os.FileInfo) error {
		mode := info.Mode().Perm()

		// 私钥/证书文件对组和其他用户可读
		if hasSuffix(path, ".pem", ".key", ".p12", ".pfx") {
			if mode&0o077 != 0 {
				findings = append(findings, protocol.Finding{
					Category: CategoryFilesystem,
					Severity: protocol.AuditSeverityCritical,
					Title:    "私钥文件权限过宽",
					Message:  "私钥/证书文件对属主以外的用户可访问，应收紧为 0600",
					Evidence: path,
				})
			}
			return nil
		}

		// 任意用户可写
		if mode&0o002 != 0 {
			findings = append(findings, protocol.Finding{
				Category: CategoryFilesystem,
				Severity: protocol.AuditSeverityHigh,
				Title:    "文件全局可写",
				Message:  "文件对所有用户可写，可能被篡改",
				Evidence: path,
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortFindings(findings)
	return findings, nil
}
