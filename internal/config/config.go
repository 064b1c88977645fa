package config

import (
	"strings"
	"time"
)

// AppConfig 应用配置（config.yaml 中 app 节点）
//
// orz 通过 JSON 往返解析 app 节点，json 标签决定字段能否被读取，密钥字段不能使用 "-"。
type AppConfig struct {
	JWT       JWTConfig       `mapstructure:"jwt" json:"jwt"`
	Code      CodeConfig      `mapstructure:"code" json:"code"`
	QRLogin   QRLoginConfig   `mapstructure:"qrLogin" json:"qrLogin"`
	Features  FeatureConfig   `mapstructure:"features" json:"features"`
	DevHosts  []string        `mapstructure:"devHosts" json:"devHosts"` // 开发域名，仅在 code.debugEcho 开启时回显验证码
	Mail      MailConfig      `mapstructure:"mail" json:"mail"`
	SMS       SMSConfig       `mapstructure:"sms" json:"sms"`
	Webhook   WebhookConfig   `mapstructure:"webhook" json:"webhook"`
	Wechat    WechatConfig    `mapstructure:"wechat" json:"wechat"`
	OIDC      *OIDCConfig     `mapstructure:"oidc" json:"oidc"`
	Redis     *RedisConfig    `mapstructure:"redis" json:"redis"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup" json:"cleanup"`
	Templates TemplatesConfig `mapstructure:"templates" json:"templates"`
}

// JWTConfig 登录凭证配置
type JWTConfig struct {
	Secret       string `mapstructure:"secret" json:"secret"`
	ExpiresHours int    `mapstructure:"expiresHours" json:"expiresHours"` // 固定有效期，默认 7 天
}

// CodeConfig 验证码配置
type CodeConfig struct {
	Length        int    `mapstructure:"length" json:"length"`
	TTLSeconds    int    `mapstructure:"ttlSeconds" json:"ttlSeconds"`
	Pepper        string `mapstructure:"pepper" json:"pepper"`               // HMAC 密钥
	ResendSeconds int    `mapstructure:"resendSeconds" json:"resendSeconds"` // 同一联系方式重发间隔
	HourlyLimit   int    `mapstructure:"hourlyLimit" json:"hourlyLimit"`     // 每小时发送上限
	DebugEcho     bool   `mapstructure:"debugEcho" json:"debugEcho"`         // 开发调试：开发域名下随响应回显验证码明文，生产环境必须关闭
}

// QRLoginConfig 扫码登录配置
type QRLoginConfig struct {
	TTLSeconds int `mapstructure:"ttlSeconds" json:"ttlSeconds"`
}

// FeatureConfig 功能开关，关闭时相关接口直接返回“功能未启用”
type FeatureConfig struct {
	VerificationCode bool `mapstructure:"verificationCode" json:"verificationCode"`
	WechatBind       bool `mapstructure:"wechatBind" json:"wechatBind"`
	Weapp            bool `mapstructure:"weapp" json:"weapp"`
	QRLogin          bool `mapstructure:"qrLogin" json:"qrLogin"`
	OIDC             bool `mapstructure:"oidc" json:"oidc"`
}

// MailConfig SMTP 配置
type MailConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	From     string `mapstructure:"from" json:"from"`
}

// Enabled SMTP 是否已配置
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != ""
}

// SMSConfig 短信网关配置（JSON Webhook）
type SMSConfig struct {
	WebhookURL     string `mapstructure:"webhookUrl" json:"webhookUrl"`
	Token          string `mapstructure:"token" json:"token"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds" json:"timeoutSeconds"`
}

// WebhookConfig 管理员待办推送（钉钉/企业微信/飞书机器人）
type WebhookConfig struct {
	Type   string `mapstructure:"type" json:"type"` // dingtalk, wecom, feishu
	URL    string `mapstructure:"url" json:"url"`
	Secret string `mapstructure:"secret" json:"secret"` // 钉钉加签密钥
}

// WechatConfig 微信配置
type WechatConfig struct {
	OAuth WechatOAuthConfig `mapstructure:"oauth" json:"oauth"`
	Weapp WeappConfig       `mapstructure:"weapp" json:"weapp"`
}

// WechatOAuthConfig 微信开放平台网页授权
type WechatOAuthConfig struct {
	AppID       string `mapstructure:"appId" json:"appId"`
	AppSecret   string `mapstructure:"appSecret" json:"appSecret"`
	RedirectURL string `mapstructure:"redirectUrl" json:"redirectUrl"`
}

// WeappConfig 小程序配置
type WeappConfig struct {
	AppID     string `mapstructure:"appId" json:"appId"`
	AppSecret string `mapstructure:"appSecret" json:"appSecret"`
	APIBase   string `mapstructure:"apiBase" json:"apiBase"`
}

// OIDCConfig OIDC 登录配置
type OIDCConfig struct {
	Issuer       string   `mapstructure:"issuer" json:"issuer"`
	ClientID     string   `mapstructure:"clientId" json:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret" json:"clientSecret"`
	RedirectURL  string   `mapstructure:"redirectUrl" json:"redirectUrl"`
	Scopes       []string `mapstructure:"scopes" json:"scopes"`
}

// RedisConfig Redis 配置，未配置时不做发送频控
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// CleanupConfig 过期数据清理
type CleanupConfig struct {
	Cron             string `mapstructure:"cron" json:"cron"` // 为空则不启用定时清理
	QRRetentionHours int    `mapstructure:"qrRetentionHours" json:"qrRetentionHours"`
}

// TemplatesConfig 邮件/短信模板
type TemplatesConfig struct {
	Path string `mapstructure:"path" json:"path"` // 可选，覆盖内置模板
}

// ApplyDefaults 对未设置的字段应用默认值
func (c *AppConfig) ApplyDefaults() {
	if c.JWT.ExpiresHours <= 0 {
		c.JWT.ExpiresHours = 7 * 24
	}
	if c.Code.Length <= 0 {
		c.Code.Length = 6
	}
	if c.Code.TTLSeconds <= 0 {
		c.Code.TTLSeconds = 600
	}
	if c.Code.Pepper == "" {
		c.Code.Pepper = c.JWT.Secret
	}
	if c.Code.ResendSeconds <= 0 {
		c.Code.ResendSeconds = 60
	}
	if c.Code.HourlyLimit <= 0 {
		c.Code.HourlyLimit = 10
	}
	if c.QRLogin.TTLSeconds <= 0 {
		c.QRLogin.TTLSeconds = 300
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 465
	}
	if c.SMS.TimeoutSeconds <= 0 {
		c.SMS.TimeoutSeconds = 10
	}
	if c.Wechat.Weapp.APIBase == "" {
		c.Wechat.Weapp.APIBase = "https://api.weixin.qq.com"
	}
	if c.OIDC != nil && len(c.OIDC.Scopes) == 0 {
		c.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
	if c.Cleanup.QRRetentionHours <= 0 {
		c.Cleanup.QRRetentionHours = 24
	}
}

// TokenTTL 登录凭证有效期
func (c *AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.JWT.ExpiresHours) * time.Hour
}

// CodeTTL 验证码有效期
func (c *AppConfig) CodeTTL() time.Duration {
	return time.Duration(c.Code.TTLSeconds) * time.Second
}

// QRTTL 扫码会话有效期
func (c *AppConfig) QRTTL() time.Duration {
	return time.Duration(c.QRLogin.TTLSeconds) * time.Second
}

// QRRetention 过期扫码会话保留时长
func (c *AppConfig) QRRetention() time.Duration {
	return time.Duration(c.Cleanup.QRRetentionHours) * time.Hour
}

// EchoCode 是否随响应回显验证码明文：需显式开启 code.debugEcho 且请求域名为开发域名
func (c *AppConfig) EchoCode(host string) bool {
	return c.Code.DebugEcho && c.IsDevHost(host)
}

// IsDevHost 判断请求域名是否为开发域名（忽略端口与大小写）
func (c *AppConfig) IsDevHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	for _, h := range c.DevHosts {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return true
		}
	}
	return false
}
