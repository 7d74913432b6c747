package service

import (
	"net"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// GeoIPService 封禁客户端的地理位置查询（可选功能）
type GeoIPService struct {
	logger   *zap.Logger
	reader   *geoip2.Reader
	language string
}

// NewGeoIPService 创建 GeoIP 服务，未启用时所有查询返回空字符串
func NewGeoIPService(logger *zap.Logger, cfg *config.GeoIPConfig) *GeoIPService {
	s := &GeoIPService{
		logger:   logger,
		language: "en",
	}

	if cfg == nil || !cfg.Enabled {
		return s
	}

	reader, err := geoip2.Open(cfg.DBPath)
	if err != nil {
		logger.Warn("打开 GeoIP 数据库失败，地理位置查询不可用",
			zap.String("path", cfg.DBPath),
			zap.Error(err))
		return s
	}

	s.reader = reader
	if cfg.DBLanguage != "" {
		s.language = cfg.DBLanguage
	}
	logger.Info("GeoIP 数据库已加载", zap.String("path", cfg.DBPath))
	return s
}

// Lookup 查询 IP 所属国家/地区名称，查询失败返回空字符串
func (s *GeoIPService) Lookup(ip string) string {
	if s.reader == nil {
		return ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := s.reader.Country(parsed)
	if err != nil {
		return ""
	}

	if name, ok := record.Country.Names[s.language]; ok {
		return name
	}
	return record.Country.Names["en"]
}

// Close 关闭 GeoIP 数据库
func (s *GeoIPService) Close() {
	if s.reader != nil {
		_ = s.reader.Close()
	}
}
