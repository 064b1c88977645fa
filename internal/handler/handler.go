package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/middleware"
	"github.com/xuhao2004/kimochi/internal/service"
)

// requireUser 当前登录用户 ID，未登录返回 401
func requireUser(c echo.Context) (string, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return "", service.ErrUnauthorized
	}
	return userID, nil
}

// bindAndValidate 解析并校验请求体
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return service.ErrInvalidParams
	}
	return c.Validate(req)
}

// codeSent 验证码发送结果，调试模式下对开发域名回显明文
func codeSent(c echo.Context, cfg *config.AppConfig, code string) error {
	resp := orz.Map{"sent": true}
	if code != "" && cfg.EchoCode(c.Request().Host) {
		resp["devCode"] = code
	}
	return orz.Ok(c, resp)
}

func pagination(c echo.Context) (page, pageSize int) {
	page, pageSize = 1, 20
	if p, err := strconv.Atoi(c.QueryParam("pageIndex")); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(c.QueryParam("pageSize")); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}

const stateCookieMaxAge = 10 * time.Minute

// newState 生成 OAuth state 并写入 Cookie
func newState(c echo.Context, cookieName string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	c.SetCookie(&http.Cookie{
		Name:     cookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// checkState 校验回调 state 与 Cookie 一致，校验后清除 Cookie
func checkState(c echo.Context, cookieName, state string) error {
	cookie, err := c.Cookie(cookieName)
	if err != nil || state == "" || cookie.Value != state {
		return orz.NewError(400, "state 校验失败")
	}
	c.SetCookie(&http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return nil
}
