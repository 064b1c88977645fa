package handler

import (
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/service"
)

type AccountHandler struct {
	cfg            *config.AppConfig
	accountService *service.AccountService
}

func NewAccountHandler(cfg *config.AppConfig, accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		cfg:            cfg,
		accountService: accountService,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Nickname string `json:"nickname" validate:"max=32"`
	Code     string `json:"code"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type WeappLoginRequest struct {
	JSCode string `json:"jsCode" validate:"required"`
}

type CodeLoginRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

// Register 邮箱注册
func (r AccountHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resp, err := r.accountService.Register(c.Request().Context(), service.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Nickname: req.Nickname,
		Code:     req.Code,
	})
	if err != nil {
		return err
	}
	return orz.Ok(c, resp)
}

// Login 用户登录
func (r AccountHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	loginResp, err := r.accountService.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	return orz.Ok(c, loginResp)
}

// LoginByWeapp 小程序登录，首次登录自动注册
func (r AccountHandler) LoginByWeapp(c echo.Context) error {
	var req WeappLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := r.accountService.LoginByWeapp(c.Request().Context(), req.JSCode)
	if err != nil {
		return err
	}
	return orz.Ok(c, resp)
}

// LoginByCode 邮箱验证码登录
func (r AccountHandler) LoginByCode(c echo.Context) error {
	var req CodeLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := r.accountService.LoginByCode(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return err
	}
	return orz.Ok(c, resp)
}

// ForgotPassword 发送重置密码验证码，无论邮箱是否注册都返回相同结果
func (r AccountHandler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	code, err := r.accountService.ForgotPassword(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return codeSent(c, r.cfg, code)
}

// ResetPassword 通过验证码重置密码，旧凭证全部失效
func (r AccountHandler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := r.accountService.ResetPassword(c.Request().Context(), req.Email, req.Code, req.NewPassword); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"message": "密码已重置",
	})
}

// Me 当前用户信息
func (r AccountHandler) Me(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	user, err := r.accountService.Me(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"user":       user,
		"loginPaths": service.LoginPaths(user),
	})
}

// LogoutAll 退出全部设备
func (r AccountHandler) LogoutAll(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := r.accountService.LogoutAll(ctx, userID); err != nil {
		return err
	}

	return orz.Ok(c, orz.Map{
		"message": "登出成功",
	})
}

// ForceLogout 管理员强制下线指定用户
func (r AccountHandler) ForceLogout(c echo.Context) error {
	if err := r.accountService.LogoutAll(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"message": "已强制下线",
	})
}
