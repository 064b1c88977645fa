package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xuhao2004/kimochi/internal/config"
	"go.uber.org/zap"
)

// WebhookSMSSender 通过 JSON Webhook 对接短信网关
type WebhookSMSSender struct {
	cfg    config.SMSConfig
	logger *zap.Logger
	client *http.Client
}

func NewWebhookSMSSender(cfg config.SMSConfig, logger *zap.Logger) *WebhookSMSSender {
	return &WebhookSMSSender{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Send 发送短信
func (s *WebhookSMSSender) Send(ctx context.Context, phone, content string) error {
	if s.cfg.WebhookURL == "" {
		return fmt.Errorf("sms webhook not configured")
	}

	body := map[string]string{
		"phone":   phone,
		"content": content,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("请求失败，状态码: %d, 响应: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info("短信发送成功")
	return nil
}
