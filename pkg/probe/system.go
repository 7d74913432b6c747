package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// CPUProber CPU 使用率探针
type CPUProber struct{}

// NewCPUProber 创建 CPU 探针
func NewCPUProber() *CPUProber {
	return &CPUProber{}
}

func (p *CPUProber) Name() string   { return "cpu" }
func (p *CPUProber) Source() string { return protocol.SourceSystemCPU }
func (p *CPUProber) Keys() []string { return []string{"usage_percent"} }

// Probe 采集 CPU 总使用率。
// interval 为 0 时 gopsutil 与上一次调用做差，首次调用结果可能偏低。
func (p *CPUProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(percents) == 0 {
		return nil, fmt.Errorf("cpu 使用率数据为空")
	}

	now := time.Now().UnixMilli()
	return []protocol.MetricSample{
		{Source: protocol.SourceSystemCPU, Key: "usage_percent", Value: percents[0], Timestamp: now},
	}, nil
}

// MemoryProber 内存使用率探针
type MemoryProber struct{}

// NewMemoryProber 创建内存探针
func NewMemoryProber() *MemoryProber {
	return &MemoryProber{}
}

func (p *MemoryProber) Name() string   { return "memory" }
func (p *MemoryProber) Source() string { return protocol.SourceSystemMemory }
func (p *MemoryProber) Keys() []string { return []string{"usage_percent", "used_mb", "available_mb"} }

func (p *MemoryProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	return []protocol.MetricSample{
		{Source: protocol.SourceSystemMemory, Key: "usage_percent", Value: vm.UsedPercent, Timestamp: now},
		{Source: protocol.SourceSystemMemory, Key: "used_mb", Value: float64(vm.Used) / 1024 / 1024, Timestamp: now},
		{Source: protocol.SourceSystemMemory, Key: "available_mb", Value: float64(vm.Available) / 1024 / 1024, Timestamp: now},
	}, nil
}

// DiskProber 磁盘使用率探针
type DiskProber struct {
	path string
}

// NewDiskProber 创建磁盘探针
func NewDiskProber(path string) *DiskProber {
	return &DiskProber{path: path}
}

func (p *DiskProber) Name() string   { return "disk" }
func (p *DiskProber) Source() string { return protocol.SourceSystemDisk }
func (p *DiskProber) Keys() []string { return []string{"usage_percent", "free_gb"} }

func (p *DiskProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	usage, err := disk.UsageWithContext(ctx, p.path)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	return []protocol.MetricSample{
		{Source: protocol.SourceSystemDisk, Key: "usage_percent", Value: usage.UsedPercent, Timestamp: now},
		{Source: protocol.SourceSystemDisk, Key: "free_gb", Value: float64(usage.Free) / 1024 / 1024 / 1024, Timestamp: now},
	}, nil
}

// LoadProber 系统负载探针
type LoadProber struct{}

// NewLoadProber 创建负载探针
func NewLoadProber() *LoadProber {
	return &LoadProber{}
}

func (p *LoadProber) Name() string   { return "load" }
func (p *LoadProber) Source() string { return protocol.SourceSystemLoad }
func (p *LoadProber) Keys() []string { return []string{"load1", "load5"} }

func (p *LoadProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	return []protocol.MetricSample{
		{Source: protocol.SourceSystemLoad, Key: "load1", Value: avg.Load1, Timestamp: now},
		{Source: protocol.SourceSystemLoad, Key: "load5", Value: avg.Load5, Timestamp: now},
	}, nil
}
