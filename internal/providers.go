package internal

import (
	"github.com/spf13/afero"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/pkg/ratelimit"
	"github.com/xuhao2004/kimochi/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// provideTemplateRenderer 提供模板渲染器，配置了覆盖文件时从磁盘读取
func provideTemplateRenderer(cfg *config.AppConfig) (*service.TemplateRenderer, error) {
	return service.NewTemplateRenderer(afero.NewOsFs(), cfg.Templates.Path)
}

// provideMailer 未配置 SMTP 时返回 nil，邮件投递将失败并记录
func provideMailer(logger *zap.Logger, cfg *config.AppConfig) service.Mailer {
	if !cfg.Mail.Enabled() {
		logger.Warn("未配置 SMTP，邮件不会发送")
		return nil
	}
	return service.NewSMTPMailer(cfg.Mail, logger)
}

// provideSMSSender 未配置短信网关时返回 nil
func provideSMSSender(logger *zap.Logger, cfg *config.AppConfig) service.SMSSender {
	if cfg.SMS.WebhookURL == "" {
		return nil
	}
	return service.NewWebhookSMSSender(cfg.SMS, logger)
}

// provideVerificationService 提供VerificationService
func provideVerificationService(
	logger *zap.Logger,
	db *gorm.DB,
	limiter *ratelimit.SendLimiter,
	mailer service.Mailer,
	sms service.SMSSender,
	templates *service.TemplateRenderer,
	cfg *config.AppConfig,
) *service.VerificationService {
	return service.NewVerificationService(
		logger, db, limiter, mailer, sms, templates,
		cfg.Features.VerificationCode,
		cfg.Code.Pepper,
		cfg.Code.Length,
		cfg.CodeTTL(),
	)
}

// provideTokenService 提供TokenService
func provideTokenService(logger *zap.Logger, db *gorm.DB, cfg *config.AppConfig) *service.TokenService {
	return service.NewTokenService(logger, db, cfg.JWT.Secret, cfg.TokenTTL())
}

// provideNotifier 提供Notifier
func provideNotifier(logger *zap.Logger, mailer service.Mailer, templates *service.TemplateRenderer, cfg *config.AppConfig) *service.Notifier {
	return service.NewNotifier(logger, mailer, templates, cfg.Webhook)
}

// provideWeappExchanger 小程序未启用时返回 nil
func provideWeappExchanger(logger *zap.Logger, cfg *config.AppConfig) service.WeappExchanger {
	if !cfg.Features.Weapp || cfg.Wechat.Weapp.AppID == "" {
		return nil
	}
	return service.NewWeappClient(logger, cfg.Wechat.Weapp)
}

// provideWechatExchanger 微信网页授权未启用时返回 nil
func provideWechatExchanger(logger *zap.Logger, cfg *config.AppConfig) service.WechatExchanger {
	if !cfg.Features.WechatBind || cfg.Wechat.OAuth.AppID == "" {
		return nil
	}
	return service.NewWechatOAuthClient(logger, cfg.Wechat.OAuth, cfg.Wechat.Weapp.APIBase)
}

// provideQRLoginService 提供QRLoginService
func provideQRLoginService(
	logger *zap.Logger,
	db *gorm.DB,
	tokens *service.TokenService,
	bindings *service.BindingService,
	weapp service.WeappExchanger,
	cfg *config.AppConfig,
) *service.QRLoginService {
	return service.NewQRLoginService(logger, db, tokens, bindings, weapp, cfg.QRTTL())
}

// provideOIDCService 提供OIDCService
func provideOIDCService(logger *zap.Logger, cfg *config.AppConfig) *service.OIDCService {
	return service.NewOIDCService(logger, cfg.OIDC)
}

// provideCleanupService 提供CleanupService
func provideCleanupService(logger *zap.Logger, db *gorm.DB, cfg *config.AppConfig) *service.CleanupService {
	return service.NewCleanupService(logger, db, cfg.QRRetention())
}
