package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/service"
)

// CodeHandler 统一的验证码发送入口，按用途分发
type CodeHandler struct {
	cfg            *config.AppConfig
	accountService *service.AccountService
	bindingService *service.BindingService
	changeService  *service.AccountChangeService
}

func NewCodeHandler(
	cfg *config.AppConfig,
	accountService *service.AccountService,
	bindingService *service.BindingService,
	changeService *service.AccountChangeService,
) *CodeHandler {
	return &CodeHandler{
		cfg:            cfg,
		accountService: accountService,
		bindingService: bindingService,
		changeService:  changeService,
	}
}

// SendCodeRequest 发送验证码请求
type SendCodeRequest struct {
	Purpose   string `json:"purpose" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	RequestID string `json:"requestId"`
}

// Send 发送验证码
func (h *CodeHandler) Send(c echo.Context) error {
	var req SendCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	code, err := h.send(c, &req)
	if err != nil {
		return err
	}
	return codeSent(c, h.cfg, code)
}

func (h *CodeHandler) send(c echo.Context, req *SendCodeRequest) (string, error) {
	ctx := c.Request().Context()

	switch req.Purpose {
	case models.PurposeRegister:
		return h.accountService.SendRegisterCode(ctx, req.Email)
	case models.PurposePasswordReset:
		return h.accountService.ForgotPassword(ctx, req.Email)
	case models.PurposeEmailLogin:
		return h.accountService.SendLoginCode(ctx, req.Email)
	case models.PurposeAccountChangeCancel:
		if req.RequestID == "" {
			return "", service.ErrInvalidParams
		}
		return h.changeService.SendCancelCode(ctx, req.RequestID)
	}

	// 以下用途作用于当前登录用户
	userID, err := requireUser(c)
	if err != nil {
		return "", err
	}
	switch req.Purpose {
	case models.PurposeEmailUnbind:
		return h.bindingService.SendEmailUnbindCode(ctx, userID)
	case models.PurposeWeappRebind:
		return h.bindingService.SendWeappRebindCode(ctx, userID)
	case models.PurposeSecurityEmail:
		return h.bindingService.SendSecurityEmailCode(ctx, userID, req.Email)
	default:
		return "", service.ErrInvalidParams
	}
}
