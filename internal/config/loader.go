package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load 从文件加载并校验配置，文件不存在时返回默认配置
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置合法性
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	for _, check := range cfg.Health.Checks {
		if check.Warning == check.Critical {
			return fmt.Errorf("配置校验失败: 检查项 %s 的 warning 与 critical 阈值不能相等", check.Name)
		}
		switch check.Direction {
		case "", DirectionHigherIsWorse:
			if check.Warning > check.Critical {
				return fmt.Errorf("配置校验失败: 检查项 %s 的 warning 阈值不能高于 critical", check.Name)
			}
		case DirectionLowerIsWorse:
			if check.Warning < check.Critical {
				return fmt.Errorf("配置校验失败: 检查项 %s 的 warning 阈值不能低于 critical", check.Name)
			}
		}
	}
	return nil
}

// ValidateRateLimit 单独校验限流配置（运行时更新使用）
func ValidateRateLimit(cfg *RateLimitConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("限流配置校验失败: %w", err)
	}
	return nil
}

// Provider 配置提供者。整个配置快照通过原子指针交换，
// 读取方永远不会看到半更新的阈值集合。
type Provider struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[AppConfig]
	watcher *fsnotify.Watcher
	onSwap  []func(*AppConfig)
}

// NewProvider 创建配置提供者
func NewProvider(path string, cfg *AppConfig, logger *zap.Logger) *Provider {
	p := &Provider{
		path:   path,
		logger: logger,
	}
	p.current.Store(cfg)
	return p
}

// Get 获取当前配置快照
func (p *Provider) Get() *AppConfig {
	return p.current.Load()
}

// OnSwap 注册配置变更回调（需在 Watch 之前调用）
func (p *Provider) OnSwap(fn func(*AppConfig)) {
	p.onSwap = append(p.onSwap, fn)
}

// Swap 替换配置快照（已校验）
func (p *Provider) Swap(cfg *AppConfig) {
	p.current.Store(cfg)
	for _, fn := range p.onSwap {
		fn(cfg)
	}
}

// Watch 监听配置文件变化并热加载，非法配置保持旧快照
func (p *Provider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建配置监听器失败: %w", err)
	}
	p.watcher = watcher

	// 监听目录而不是文件本身，兼容编辑器的原子写入(rename)
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("监听配置目录失败: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				p.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("配置监听出错", zap.Error(err))
			}
		}
	}()

	return nil
}

func (p *Provider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		// 拒绝非法更新，保留旧配置
		p.logger.Error("配置热加载失败，保留旧配置", zap.Error(err))
		return
	}
	p.Swap(cfg)
	p.logger.Info("配置已热加载", zap.String("path", p.path))
}

// Close 停止监听
func (p *Provider) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
