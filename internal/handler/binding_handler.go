package handler

import (
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/service"
)

const wechatStateCookie = "wechat_state"

var errChangeViaRequest = orz.NewError(400, "邮箱与手机号请通过账号变更申请修改")

type BindingHandler struct {
	cfg            *config.AppConfig
	bindingService *service.BindingService
	oidcService    *service.OIDCService
}

func NewBindingHandler(cfg *config.AppConfig, bindingService *service.BindingService, oidcService *service.OIDCService) *BindingHandler {
	return &BindingHandler{
		cfg:            cfg,
		bindingService: bindingService,
		oidcService:    oidcService,
	}
}

// BindRequest 绑定请求，小程序使用 jsCode，微信与 OIDC 使用授权 code
type BindRequest struct {
	JSCode string `json:"jsCode"`
	Code   string `json:"code"`
}

type WechatCallbackRequest struct {
	Code  string `json:"code" validate:"required"`
	State string `json:"state" validate:"required"`
}

type UnbindEmailRequest struct {
	Code string `json:"code" validate:"required"`
}

type RebindWeappRequest struct {
	Code   string `json:"code" validate:"required"`
	JSCode string `json:"jsCode" validate:"required"`
}

type SecurityEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

// List 当前用户可用的登录方式
func (h *BindingHandler) List(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	paths, err := h.bindingService.LoginPaths(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"loginPaths": paths,
	})
}

// Bind 绑定外部身份
func (h *BindingHandler) Bind(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	kind, ok := service.ParseIdentityKind(c.Param("kind"))
	if !ok {
		return service.ErrInvalidParams
	}
	var req BindRequest
	if err := c.Bind(&req); err != nil {
		return service.ErrInvalidParams
	}

	ctx := c.Request().Context()
	switch kind {
	case service.KindWeapp:
		if !h.cfg.Features.Weapp {
			return service.ErrFeatureDisabled
		}
		if req.JSCode == "" {
			return service.ErrInvalidParams
		}
		err = h.bindingService.BindWeappByCode(ctx, userID, req.JSCode)
	case service.KindWechat:
		if !h.cfg.Features.WechatBind {
			return service.ErrFeatureDisabled
		}
		if req.Code == "" {
			return service.ErrInvalidParams
		}
		err = h.bindingService.BindWechatByCode(ctx, userID, req.Code)
	case service.KindOIDC:
		if !h.cfg.Features.OIDC || !h.oidcService.Enabled() {
			return service.ErrFeatureDisabled
		}
		if req.Code == "" {
			return service.ErrInvalidParams
		}
		identity, exErr := h.oidcService.Exchange(ctx, req.Code)
		if exErr != nil {
			return exErr
		}
		err = h.bindingService.Bind(ctx, userID, service.KindOIDC, identity.Subject, "")
	default:
		return errChangeViaRequest
	}
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"kind":  kind,
		"bound": true,
	})
}

// WechatCallback 微信网页授权回调，state 需与授权时写入的 Cookie 一致
func (h *BindingHandler) WechatCallback(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req WechatCallbackRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := checkState(c, wechatStateCookie, req.State); err != nil {
		return err
	}
	if err := h.bindingService.BindWechatByCode(c.Request().Context(), userID, req.Code); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"kind":  service.KindWechat,
		"bound": true,
	})
}

// Unbind 解绑外部身份；邮箱解绑需要验证码
func (h *BindingHandler) Unbind(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	kind, ok := service.ParseIdentityKind(c.Param("kind"))
	if !ok {
		return service.ErrInvalidParams
	}
	if kind == service.KindEmail {
		return orz.NewError(400, "解绑邮箱需要验证码")
	}
	if err := h.bindingService.Unbind(c.Request().Context(), userID, kind); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"kind":  kind,
		"bound": false,
	})
}

// UnbindEmail 凭验证码解绑登录邮箱
func (h *BindingHandler) UnbindEmail(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req UnbindEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.bindingService.UnbindEmailWithCode(c.Request().Context(), userID, req.Code); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"kind":  service.KindEmail,
		"bound": false,
	})
}

// RebindWeapp 凭登录邮箱验证码更换小程序身份
func (h *BindingHandler) RebindWeapp(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req RebindWeappRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.bindingService.RebindWeapp(c.Request().Context(), userID, req.Code, req.JSCode); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"kind":  service.KindWeapp,
		"bound": true,
	})
}

// BindSecurityEmail 设置安全邮箱
func (h *BindingHandler) BindSecurityEmail(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req SecurityEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.bindingService.BindSecurityEmail(c.Request().Context(), userID, req.Email, req.Code); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"securityEmail": req.Email,
	})
}
