package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/go-playground/validator/v10"
	"github.com/jpillora/backoff"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/metrics"
	"go.uber.org/zap"
)

var emailValidator = validator.New()

// Notifier 尽力而为的通知投递
//
// 主流程已提交后才调用，投递失败只记录日志与指标，不影响调用方结果。
type Notifier struct {
	logger    *zap.Logger
	mailer    Mailer
	templates *TemplateRenderer
	webhook   config.WebhookConfig
	client    *http.Client

	attempts int
	minDelay time.Duration
	maxDelay time.Duration
	now      func() time.Time
}

func NewNotifier(logger *zap.Logger, mailer Mailer, templates *TemplateRenderer, webhook config.WebhookConfig) *Notifier {
	return &Notifier{
		logger:    logger,
		mailer:    mailer,
		templates: templates,
		webhook:   webhook,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		attempts: 3,
		minDelay: 200 * time.Millisecond,
		maxDelay: 2 * time.Second,
		now:      time.Now,
	}
}

// NotifyEmail 渲染模板并发送邮件，收件人不是合法邮箱时跳过
func (n *Notifier) NotifyEmail(ctx context.Context, to, templateName string, vars map[string]string) {
	if to == "" || emailValidator.Var(to, "email") != nil {
		return
	}
	if n.mailer == nil {
		n.logger.Debug("未配置邮件，跳过通知", zap.String("template", templateName))
		return
	}

	msg, err := n.templates.Render(templateName, vars)
	if err != nil {
		n.report("email", templateName, err)
		return
	}

	err = n.retry(ctx, func() error {
		return n.mailer.Send(ctx, to, msg.Subject, msg.Body)
	})
	if err != nil {
		n.report("email", templateName, err)
	}
}

// NotifyAdmins 推送管理员待办到机器人 Webhook，未配置时跳过
func (n *Notifier) NotifyAdmins(ctx context.Context, templateName string, vars map[string]string) {
	if n.webhook.URL == "" {
		return
	}

	msg, err := n.templates.Render(templateName, vars)
	if err != nil {
		n.report("webhook", templateName, err)
		return
	}

	err = n.retry(ctx, func() error {
		switch n.webhook.Type {
		case "dingtalk":
			return n.sendDingTalk(ctx, n.webhook.URL, n.webhook.Secret, msg.Body)
		case "feishu":
			return n.sendFeishu(ctx, n.webhook.URL, msg.Body)
		default:
			return n.sendWeCom(ctx, n.webhook.URL, msg.Body)
		}
	})
	if err != nil {
		n.report("webhook", templateName, err)
	}
}

func (n *Notifier) retry(ctx context.Context, fn func() error) error {
	b := &backoff.Backoff{
		Min:    n.minDelay,
		Max:    n.maxDelay,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == n.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}

func (n *Notifier) report(channel, templateName string, err error) {
	metrics.NotificationFailures.WithLabelValues(channel).Inc()
	wrapped := goerrors.Wrap(err, 1)
	n.logger.Error("通知投递失败",
		zap.String("channel", channel),
		zap.String("template", templateName),
		zap.Error(err),
		zap.String("stack", string(wrapped.Stack())),
	)
}

// sendDingTalk 发送钉钉通知
func (n *Notifier) sendDingTalk(ctx context.Context, webhook, secret, message string) error {
	body := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": message,
		},
	}

	// 如果有加签密钥，计算签名
	if secret != "" {
		timestamp := n.now().UnixMilli()
		sign := calculateDingTalkSign(timestamp, secret)
		webhook = fmt.Sprintf("%s&timestamp=%d&sign=%s", webhook, timestamp, url.QueryEscape(sign))
	}

	return n.sendJSONRequest(ctx, webhook, body)
}

// calculateDingTalkSign 计算钉钉加签
func calculateDingTalkSign(timestamp int64, secret string) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// sendWeCom 发送企业微信通知
func (n *Notifier) sendWeCom(ctx context.Context, webhook, message string) error {
	body := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": message,
		},
	}

	return n.sendJSONRequest(ctx, webhook, body)
}

// sendFeishu 发送飞书通知
func (n *Notifier) sendFeishu(ctx context.Context, webhook, message string) error {
	body := map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": message,
		},
	}

	return n.sendJSONRequest(ctx, webhook, body)
}

// sendJSONRequest 发送JSON请求
func (n *Notifier) sendJSONRequest(ctx context.Context, url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("请求失败，状态码: %d, 响应: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info("通知发送成功", zap.String("response", string(respBody)))
	return nil
}
