package probe

import (
	"context"

	"github.com/dushixiang/vigil/internal/protocol"
)

// Prober 指标探针。一次 Probe 产生零个或多个样本，
// 失败只影响自身，采样器会把失败记录为 unknown 样本。
type Prober interface {
	Name() string
	Source() string
	// Keys 该探针产出的指标键，探测失败时采样器据此写入 unknown 样本
	Keys() []string
	Probe(ctx context.Context) ([]protocol.MetricSample, error)
}

// Defaults 返回内置探针集合
func Defaults() []Prober {
	return []Prober{
		NewCPUProber(),
		NewMemoryProber(),
		NewDiskProber("/"),
		NewLoadProber(),
		NewProcessProber(),
		NewSchedLagProber(),
	}
}
