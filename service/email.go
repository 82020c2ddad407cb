package service

import (
	"context"
	"fmt"
	"html"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"zh.xyz/dv/hubsync/config"
)

// MailSender 发送邮件，*gomail.Dialer 实现了该接口
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 同步失败时发邮件
type EmailNotifier struct {
	sender MailSender
	from   string
	to     string
	logger *zap.Logger
}

// NewEmailNotifier 未配置收件人或 SMTP 时返回 nil
func NewEmailNotifier(cfg config.EmailConfig, to string, logger *zap.Logger) *EmailNotifier {
	if to == "" || cfg.Host == "" {
		return nil
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return NewEmailNotifierWithSender(d, cfg.From, to, logger)
}

// NewEmailNotifierWithSender 使用指定的发送器
func NewEmailNotifierWithSender(sender MailSender, from, to string, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{sender: sender, from: from, to: to, logger: logger}
}

// NotifyFailure 发送失败通知
func (n *EmailNotifier) NotifyFailure(_ context.Context, result *SyncResult, err error) error {
	if n == nil {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", fmt.Sprintf("HubSpot 同步失败 [%s]", result.RunID))
	m.SetBody("text/html", failureBody(result, err))

	if sendErr := n.sender.DialAndSend(m); sendErr != nil {
		return fmt.Errorf("发送邮件失败: %w", sendErr)
	}
	n.logger.Info("已发送失败通知", zap.String("run_id", result.RunID), zap.String("to", n.to))
	return nil
}

func failureBody(result *SyncResult, err error) string {
	return fmt.Sprintf(`
		<html>
		<body>
			<h2>HubSpot 同步失败</h2>
			<ul>
				<li>运行ID: %s</li>
				<li>类型: %s</li>
				<li>失败阶段: %s</li>
				<li>错误: %s</li>
			</ul>
			<p>联系人: 拉取 %d，写入 %d，跳过 %d，失败 %d</p>
			<p>交易: 拉取 %d，写入 %d，失败 %d</p>
			<p>关联: 新增 %d，延后 %d</p>
		</body>
		</html>
	`, html.EscapeString(result.RunID), result.Kind, result.Stage, html.EscapeString(err.Error()),
		result.Contacts.Fetched, result.Contacts.Synced, result.Contacts.Skipped, result.Contacts.Failed,
		result.Deals.Fetched, result.Deals.Synced, result.Deals.Failed,
		result.Associations.Inserted, result.Associations.Deferred)
}
