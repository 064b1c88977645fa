package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/middleware"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/pkg/ratelimit"
	"github.com/xuhao2004/kimochi/pkg/version"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run 启动 HTTP 服务
func Run(configPath string) {
	err := orz.Quick(configPath, setup)
	if err != nil {
		panic(err)
	}
}

// LoadConfig 读取 app 节点配置并应用默认值
func LoadConfig(app *orz.App) (*config.AppConfig, error) {
	var appConfig config.AppConfig
	if _config := app.GetConfig(); _config != nil {
		if err := _config.App.Unmarshal(&appConfig); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}
	appConfig.ApplyDefaults()
	return &appConfig, nil
}

// AutoMigrate 同步表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

func setup(app *orz.App) error {
	logger := app.Logger()
	db := app.GetDatabase()

	cfg, err := LoadConfig(app)
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("app.jwt.secret 未配置")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("同步表结构失败: %w", err)
	}

	limiter, err := provideSendLimiter(logger, cfg)
	if err != nil {
		return err
	}

	components, err := InitializeApp(logger, db, cfg, limiter)
	if err != nil {
		return fmt.Errorf("初始化组件失败: %w", err)
	}

	e := app.GetEcho()
	e.Validator = middleware.NewValidator()
	setupRoutes(e, cfg, components)

	if err := startCleanup(logger, cfg, components); err != nil {
		return err
	}

	logger.Info("服务已启动", zap.String("version", version.GetVersion()))
	return nil
}

// provideSendLimiter 配置 Redis 时启用验证码发送频控
func provideSendLimiter(logger *zap.Logger, cfg *config.AppConfig) (*ratelimit.SendLimiter, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		logger.Info("未配置 Redis，验证码发送不做频控")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return ratelimit.NewSendLimiter(
		rdb,
		"kimochi:code",
		time.Duration(cfg.Code.ResendSeconds)*time.Second,
		time.Hour,
		cfg.Code.HourlyLimit,
	), nil
}

// startCleanup 按 cron 表达式定期清理过期扫码会话
func startCleanup(logger *zap.Logger, cfg *config.AppConfig, components *AppComponents) error {
	if cfg.Cleanup.Cron == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.Cleanup.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := components.CleanupService.Sweep(ctx); err != nil {
			logger.Error("定时清理失败", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("cleanup.cron 配置无效: %w", err)
	}
	c.Start()
	logger.Info("定时清理已启用", zap.String("cron", cfg.Cleanup.Cron))
	return nil
}

func setupRoutes(e *echo.Echo, cfg *config.AppConfig, components *AppComponents) {
	auth := middleware.Auth(components.TokenService)
	optionalAuth := middleware.OptionalAuth(components.TokenService)
	features := cfg.Features

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	account := api.Group("/account")
	account.POST("/register", components.AccountHandler.Register)
	account.POST("/login", components.AccountHandler.Login)
	account.POST("/login/weapp", components.AccountHandler.LoginByWeapp, middleware.Feature(features.Weapp))
	account.POST("/login/code", components.AccountHandler.LoginByCode, middleware.Feature(features.VerificationCode))
	account.POST("/password/forgot", components.AccountHandler.ForgotPassword, middleware.Feature(features.VerificationCode))
	account.POST("/password/reset", components.AccountHandler.ResetPassword, middleware.Feature(features.VerificationCode))
	account.GET("/me", components.AccountHandler.Me, auth)
	account.POST("/logout-all", components.AccountHandler.LogoutAll, auth)

	api.POST("/codes/send", components.CodeHandler.Send, middleware.Feature(features.VerificationCode), optionalAuth)

	qr := api.Group("/qr", middleware.Feature(features.QRLogin))
	qr.POST("/start", components.QRHandler.StartLogin)
	qr.POST("/bind/start", components.QRHandler.StartBind, middleware.Feature(features.Weapp), auth)
	qr.GET("/:nonce", components.QRHandler.Poll)
	qr.POST("/:nonce/confirm", components.QRHandler.Confirm, auth)
	qr.POST("/:nonce/confirm/weapp", components.QRHandler.ConfirmWeapp, middleware.Feature(features.Weapp))
	qr.POST("/:nonce/complete", components.QRHandler.Complete, optionalAuth)

	bindings := api.Group("/bindings", auth)
	bindings.GET("", components.BindingHandler.List)
	bindings.POST("/email/unbind", components.BindingHandler.UnbindEmail, middleware.Feature(features.VerificationCode))
	bindings.POST("/weapp/rebind", components.BindingHandler.RebindWeapp, middleware.Feature(features.Weapp), middleware.Feature(features.VerificationCode))
	bindings.POST("/security-email", components.BindingHandler.BindSecurityEmail, middleware.Feature(features.VerificationCode))
	bindings.POST("/wechat/callback", components.BindingHandler.WechatCallback, middleware.Feature(features.WechatBind))
	bindings.POST("/:kind", components.BindingHandler.Bind)
	bindings.DELETE("/:kind", components.BindingHandler.Unbind)

	changes := api.Group("/account-changes")
	changes.POST("", components.AccountChangeHandler.Create, auth)
	changes.GET("", components.AccountChangeHandler.ListMine, auth)
	changes.POST("/:id/cancel-code", components.AccountChangeHandler.SendCancelCode, middleware.Feature(features.VerificationCode))
	changes.POST("/:id/cancel", components.AccountChangeHandler.Cancel, middleware.Feature(features.VerificationCode))
	api.GET("/notifications", components.AccountChangeHandler.Notifications, auth)

	api.GET("/oidc/login", components.OAuthHandler.OIDCLogin, middleware.Feature(features.OIDC))
	api.GET("/oidc/callback", components.OAuthHandler.OIDCCallback, middleware.Feature(features.OIDC))
	api.GET("/wechat/authorize", components.OAuthHandler.WechatAuthorize, middleware.Feature(features.WechatBind))

	admin := api.Group("/admin", auth, middleware.RequireAdmin)
	admin.GET("/account-changes", components.AccountChangeHandler.ListPending)
	admin.POST("/account-changes/:id/approve", components.AccountChangeHandler.Approve)
	admin.POST("/account-changes/:id/reject", components.AccountChangeHandler.Reject)
	admin.POST("/users/:id/force-logout", components.AccountHandler.ForceLogout)
}
