package service

import (
	"context"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/metric"
	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/dushixiang/vigil/pkg/probe"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// SamplerService 周期采样器。每个 tick 并发执行所有探针，
// 单个探针有独立超时，失败探针写入 unknown 样本而不影响其他探针。
type SamplerService struct {
	logger         *zap.Logger
	store          *metric.Store
	configProvider *config.Provider
	probers        []probe.Prober
}

// NewSamplerService 创建采样服务
func NewSamplerService(logger *zap.Logger, store *metric.Store, configProvider *config.Provider, probers []probe.Prober) *SamplerService {
	if len(probers) == 0 {
		probers = probe.Defaults()
	}
	return &SamplerService{
		logger:         logger,
		store:          store,
		configProvider: configProvider,
		probers:        probers,
	}
}

// Tick 执行一轮采样
func (s *SamplerService) Tick(ctx context.Context) {
	timeout := s.configProvider.Get().Sampler.ProbeTimeout()

	var wg conc.WaitGroup
	for _, p := range s.probers {
		p := p
		wg.Go(func() {
			s.runProbe(ctx, p, timeout)
		})
	}
	wg.Wait()
}

// runProbe 执行单个探针并写入结果
func (s *SamplerService) runProbe(ctx context.Context, p probe.Prober, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	samples, err := p.Probe(probeCtx)
	if err != nil {
		s.logger.Warn("探针执行失败",
			zap.String("probe", p.Name()),
			zap.Error(err))

		// 失败也要留痕，健康评估会把这些键降级为 unknown
		now := time.Now().UnixMilli()
		for _, key := range p.Keys() {
			s.store.Record(protocol.MetricSample{
				Source:    p.Source(),
				Key:       key,
				Status:    protocol.SampleStatusUnknown,
				Timestamp: now,
			})
		}
		return
	}

	for _, sample := range samples {
		s.store.Record(sample)
	}
}
