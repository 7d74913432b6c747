package audit

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/spf13/afero"
)

// 审计分类名称
const (
	CategoryDependency = "dependency"
	CategoryConfig     = "config"
	CategoryInput      = "input_handling"
	CategoryFilesystem = "filesystem"
	CategoryNetwork    = "network"
)

// maxScanFileSize 超过该大小的文件跳过逐行扫描
const maxScanFileSize = 2 * 1024 * 1024

// Checker 审计分类检查器。一次 Check 产出零个或多个带严重程度的发现，
// 检查器之间相互独立，单个失败不影响其他分类。
type Checker interface {
	Name() string
	Check(ctx context.Context, fs afero.Fs, root string) ([]protocol.Finding, error)
}

// Defaults 返回内置检查器集合
func Defaults() []Checker {
	return []Checker{
		NewDependencyChecker(),
		NewConfigChecker(),
		NewInputChecker(),
		NewFilesystemChecker(),
		NewNetworkChecker(),
	}
}

// skipDir 扫描时跳过的目录
func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", ".idea", "dist":
		return true
	}
	return false
}

// walkFiles 遍历根目录下的普通文件，随时响应取消
func walkFiles(ctx context.Context, fs afero.Fs, root string, fn func(path string, info os.FileInfo) error) error {
	return afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// 单个不可读的文件/目录不终止整个扫描
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if info.IsDir() {
			if skipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return fn(path, info)
	})
}

// scanLines 逐行扫描文本文件
func scanLines(fs afero.Fs, path string, fn func(lineNo int, line string)) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fn(lineNo, scanner.Text())
	}
	return scanner.Err()
}

// sortFindings 保证同一目标的两次审计产出相同顺序
func sortFindings(findings []protocol.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		if findings[i].Title != findings[j].Title {
			return findings[i].Title < findings[j].Title
		}
		return findings[i].Evidence < findings[j].Evidence
	})
}

func hasSuffix(path string, suffixes ...string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
