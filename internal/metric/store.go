package metric

import (
	"sort"
	"sync"
	"time"

	"github.com/dushixiang/vigil/internal/protocol"
	"github.com/go-orz/cache"
	"go.uber.org/zap"
)

// Store 有界的时间索引指标存储。
// 每个 (source,key) 系列同时受最大样本数和最长保留时间约束，
// 二者取更严格的一方，最旧样本先被淘汰。
type Store struct {
	logger *zap.Logger

	mu         sync.RWMutex
	series     map[string]*series
	maxSamples int
	maxAge     time.Duration

	// 最新样本的快速查询缓存，避免热点读穿透系列锁
	latestCache cache.Cache[string, protocol.MetricSample]
}

type series struct {
	source  string
	key     string
	samples []protocol.MetricSample // 按时间升序
}

// NewStore 创建指标存储
func NewStore(logger *zap.Logger, maxSamples int, maxAge time.Duration) *Store {
	return &Store{
		logger:      logger,
		series:      make(map[string]*series),
		maxSamples:  maxSamples,
		maxAge:      maxAge,
		latestCache: cache.New[string, protocol.MetricSample](time.Minute),
	}
}

func seriesKey(source, key string) string {
	return source + "/" + key
}

// SetLimits 更新容量限制（配置热加载时调用）
func (s *Store) SetLimits(maxSamples int, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSamples = maxSamples
	s.maxAge = maxAge
}

// Record 追加一个样本并按容量/时长淘汰旧样本。
// 系列内时间戳保持非递减：晚到的样本被钳制到最后一个时间戳。
func (s *Store) Record(sample protocol.MetricSample) {
	if sample.Status == "" {
		sample.Status = protocol.SampleStatusOK
	}
	if sample.Timestamp == 0 {
		sample.Timestamp = time.Now().UnixMilli()
	}

	sk := seriesKey(sample.Source, sample.Key)

	s.mu.Lock()
	ser, ok := s.series[sk]
	if !ok {
		ser = &series{source: sample.Source, key: sample.Key}
		s.series[sk] = ser
	}

	if n := len(ser.samples); n > 0 && sample.Timestamp < ser.samples[n-1].Timestamp {
		sample.Timestamp = ser.samples[n-1].Timestamp
	}

	ser.samples = append(ser.samples, sample)
	s.evictLocked(ser, time.Now())
	survived := len(ser.samples) > 0
	s.mu.Unlock()

	// 超龄样本可能在追加后立即被淘汰，缓存必须跟随系列内容
	if survived {
		s.latestCache.Set(sk, sample, time.Hour)
	} else {
		s.latestCache.Delete(sk)
	}
}

// evictLocked 淘汰超龄和超量的样本（需要持有锁）
func (s *Store) evictLocked(ser *series, now time.Time) {
	cutoff := now.Add(-s.maxAge).UnixMilli()
	i := 0
	for i < len(ser.samples) && ser.samples[i].Timestamp < cutoff {
		i++
	}
	if over := len(ser.samples) - i - s.maxSamples; over > 0 {
		i += over
	}
	if i > 0 {
		ser.samples = append(ser.samples[:0:0], ser.samples[i:]...)
	}
}

// Query 返回窗口内的样本，按时间升序。空窗口返回空结果而非错误。
func (s *Store) Query(source, key string, window time.Duration) []protocol.MetricSample {
	if window <= 0 {
		return []protocol.MetricSample{}
	}
	cutoff := time.Now().Add(-window).UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[seriesKey(source, key)]
	if !ok {
		return []protocol.MetricSample{}
	}

	// 样本按时间升序，二分找到窗口起点
	idx := sort.Search(len(ser.samples), func(i int) bool {
		return ser.samples[i].Timestamp >= cutoff
	})

	out := make([]protocol.MetricSample, len(ser.samples)-idx)
	copy(out, ser.samples[idx:])
	return out
}

// Latest 返回最新样本，无数据时第二个返回值为 false
func (s *Store) Latest(source, key string) (protocol.MetricSample, bool) {
	sk := seriesKey(source, key)

	if sample, ok := s.latestCache.Get(sk); ok {
		return sample, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[sk]
	if !ok || len(ser.samples) == 0 {
		return protocol.MetricSample{}, false
	}
	return ser.samples[len(ser.samples)-1], true
}

// Series 枚举当前所有系列的 (source, key)
func (s *Store) Series() []protocol.MetricSeriesView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.MetricSeriesView, 0, len(s.series))
	for _, ser := range s.series {
		out = append(out, protocol.MetricSeriesView{Source: ser.source, Key: ser.key})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Export 导出窗口内的全部系列数据
func (s *Store) Export(window time.Duration) []protocol.MetricSeriesView {
	views := s.Series()
	for i := range views {
		views[i].Samples = s.Query(views[i].Source, views[i].Key, window)
	}
	return views
}

// Prune 清理空闲系列（一个保留周期内没有新样本的系列）
func (s *Store) Prune(now time.Time) {
	cutoff := now.Add(-s.maxAge).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	for sk, ser := range s.series {
		if n := len(ser.samples); n == 0 || ser.samples[n-1].Timestamp < cutoff {
			delete(s.series, sk)
			s.latestCache.Delete(sk)
			s.logger.Debug("清理空闲指标系列", zap.String("series", sk))
		}
	}
}
