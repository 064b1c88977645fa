package handler

import (
	"net/http"

	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/service"
)

const oidcStateCookie = "oidc_state"

// OAuthHandler 第三方授权跳转与回调
type OAuthHandler struct {
	accountService *service.AccountService
	oidcService    *service.OIDCService
	wechat         service.WechatExchanger
}

func NewOAuthHandler(accountService *service.AccountService, oidcService *service.OIDCService, wechat service.WechatExchanger) *OAuthHandler {
	return &OAuthHandler{
		accountService: accountService,
		oidcService:    oidcService,
		wechat:         wechat,
	}
}

// OIDCLogin 跳转到 OIDC 授权页
func (h *OAuthHandler) OIDCLogin(c echo.Context) error {
	if !h.oidcService.Enabled() {
		return service.ErrFeatureDisabled
	}
	state, err := newState(c, oidcStateCookie)
	if err != nil {
		return err
	}
	url, err := h.oidcService.AuthURL(c.Request().Context(), state)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// OIDCCallback OIDC 授权回调，校验 state 后登录
func (h *OAuthHandler) OIDCCallback(c echo.Context) error {
	if !h.oidcService.Enabled() {
		return service.ErrFeatureDisabled
	}
	if err := checkState(c, oidcStateCookie, c.QueryParam("state")); err != nil {
		return err
	}
	code := c.QueryParam("code")
	if code == "" {
		return service.ErrInvalidParams
	}

	ctx := c.Request().Context()
	identity, err := h.oidcService.Exchange(ctx, code)
	if err != nil {
		return err
	}
	resp, err := h.accountService.LoginByOIDC(ctx, identity)
	if err != nil {
		return err
	}
	return orz.Ok(c, resp)
}

// WechatAuthorize 返回微信网页授权地址，state 写入 Cookie 供回调校验
func (h *OAuthHandler) WechatAuthorize(c echo.Context) error {
	if h.wechat == nil {
		return service.ErrFeatureDisabled
	}
	state, err := newState(c, wechatStateCookie)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"url":   h.wechat.AuthURL(state),
		"state": state,
	})
}
