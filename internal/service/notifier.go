package service

import (
	"fmt"
	"time"

	"github.com/dushixiang/vigil/internal/config"
	"github.com/dushixiang/vigil/internal/protocol"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Notifier 告警通知发送器
type Notifier struct {
	logger *zap.Logger
}

// NewNotifier 创建通知发送器
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// SendByConfigs 按配置的渠道发送告警通知，单个渠道失败不影响其他渠道
func (n *Notifier) SendByConfigs(channels []config.NotificationChannelConfig, alert *protocol.Alert) error {
	var lastErr error
	for _, channel := range channels {
		if !channel.Enabled {
			continue
		}
		switch channel.Type {
		case "email":
			if err := n.sendEmail(channel, alert); err != nil {
				n.logger.Error("发送邮件通知失败",
					zap.String("host", channel.SMTPHost),
					zap.Error(err))
				lastErr = err
			}
		default:
			n.logger.Warn("不支持的通知渠道类型", zap.String("type", channel.Type))
		}
	}
	return lastErr
}

func (n *Notifier) sendEmail(channel config.NotificationChannelConfig, alert *protocol.Alert) error {
	if channel.SMTPHost == "" || len(channel.To) == 0 {
		return fmt.Errorf("邮件渠道配置不完整")
	}

	subject := fmt.Sprintf("[vigil] %s 告警: %s", alert.Severity, alert.SourceKey)
	if alert.Resolved {
		subject = fmt.Sprintf("[vigil] 告警恢复: %s", alert.SourceKey)
	}

	body := fmt.Sprintf(
		"分类: %s\n来源: %s\n级别: %s\n消息: %s\n触发时间: %s\n",
		alert.Category,
		alert.SourceKey,
		alert.Severity,
		alert.Message,
		time.UnixMilli(alert.Timestamp).Format(time.RFC3339),
	)
	if alert.Resolved {
		body += fmt.Sprintf("恢复时间: %s\n", time.UnixMilli(alert.ResolvedAt).Format(time.RFC3339))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", channel.From)
	m.SetHeader("To", channel.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(channel.SMTPHost, channel.SMTPPort, channel.Username, channel.Password)
	return d.DialAndSend(m)
}
