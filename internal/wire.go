//go:build wireinject
// +build wireinject

package internal

import (
	"github.com/google/wire"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/handler"
	"github.com/xuhao2004/kimochi/internal/pkg/ratelimit"
	"github.com/xuhao2004/kimochi/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, cfg *config.AppConfig, limiter *ratelimit.SendLimiter) (*AppComponents, error) {
	wire.Build(
		// Collaborators
		provideTemplateRenderer,
		provideMailer,
		provideSMSSender,
		provideWeappExchanger,
		provideWechatExchanger,
		provideNotifier,

		// Services
		provideVerificationService,
		provideTokenService,
		service.NewBindingService,
		provideQRLoginService,
		service.NewAccountChangeService,
		service.NewAccountService,
		provideOIDCService,
		provideCleanupService,

		// Handlers
		handler.NewAccountHandler,
		handler.NewCodeHandler,
		handler.NewBindingHandler,
		handler.NewQRHandler,
		handler.NewOAuthHandler,
		handler.NewAccountChangeHandler,

		// App Components
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}
