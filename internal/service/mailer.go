package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuhao2004/kimochi/internal/config"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer 邮件发送
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender 短信发送
type SMSSender interface {
	Send(ctx context.Context, phone, content string) error
}

// SMTPMailer 基于 SMTP 的邮件发送
type SMTPMailer struct {
	cfg    config.MailConfig
	logger *zap.Logger
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg config.MailConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		logger: logger,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send 发送纯文本邮件
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.cfg.Enabled() {
		return fmt.Errorf("mail config missing")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	m.logger.Info("邮件发送成功", zap.String("subject", subject))
	return nil
}
