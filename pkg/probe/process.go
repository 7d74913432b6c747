package probe

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessProber 当前进程内存探针（堆 + RSS）
type ProcessProber struct {
	pid int32
}

// NewProcessProber 创建进程探针
func NewProcessProber() *ProcessProber {
	return &ProcessProber{pid: int32(os.Getpid())}
}

func (p *ProcessProber) Name() string   { return "process" }
func (p *ProcessProber) Source() string { return protocol.SourceProcessMemory }
func (p *ProcessProber) Keys() []string { return []string{"heap_mb", "goroutines", "rss_mb"} }

func (p *ProcessProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := time.Now().UnixMilli()
	samples := []protocol.MetricSample{
		{Source: protocol.SourceProcessMemory, Key: "heap_mb", Value: float64(ms.HeapAlloc) / 1024 / 1024, Timestamp: now},
		{Source: protocol.SourceProcessMemory, Key: "goroutines", Value: float64(runtime.NumGoroutine()), Timestamp: now},
	}

	// RSS 采集失败不影响堆指标
	if proc, err := process.NewProcessWithContext(ctx, p.pid); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil && info != nil {
			samples = append(samples, protocol.MetricSample{
				Source: protocol.SourceProcessMemory, Key: "rss_mb",
				Value: float64(info.RSS) / 1024 / 1024, Timestamp: now,
			})
		}
	}

	return samples, nil
}

// SchedLagProber 调度延迟探针。
// 用定时器的实际唤醒时刻与期望时刻的偏差近似运行时调度延迟。
type SchedLagProber struct {
	interval time.Duration
}

// NewSchedLagProber 创建调度延迟探针
func NewSchedLagProber() *SchedLagProber {
	return &SchedLagProber{interval: 10 * time.Millisecond}
}

func (p *SchedLagProber) Name() string   { return "schedlag" }
func (p *SchedLagProber) Source() string { return protocol.SourceEventLoop }
func (p *SchedLagProber) Keys() []string { return []string{"lag_ms"} }

func (p *SchedLagProber) Probe(ctx context.Context) ([]protocol.MetricSample, error) {
	start := time.Now()
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	lag := time.Since(start) - p.interval
	if lag < 0 {
		lag = 0
	}

	return []protocol.MetricSample{
		{
			Source:    protocol.SourceEventLoop,
			Key:       "lag_ms",
			Value:     float64(lag.Microseconds()) / 1000,
			Timestamp: time.Now().UnixMilli(),
		},
	}, nil
}
