package internal

import (
	"github.com/xuhao2004/kimochi/internal/handler"
	"github.com/xuhao2004/kimochi/internal/service"
)

// AppComponents 应用组件
type AppComponents struct {
	AccountHandler       *handler.AccountHandler
	CodeHandler          *handler.CodeHandler
	BindingHandler       *handler.BindingHandler
	QRHandler            *handler.QRHandler
	OAuthHandler         *handler.OAuthHandler
	AccountChangeHandler *handler.AccountChangeHandler
	TokenService         *service.TokenService
	CleanupService       *service.CleanupService
}
