package service

import (
	"errors"

	"github.com/go-orz/orz"
)

// 参数错误
var (
	ErrInvalidParams = orz.NewError(400, "参数错误")
	ErrInvalidCode   = orz.NewError(400, "验证码无效或已过期")
	ErrInvalidEmail  = orz.NewError(400, "邮箱格式不正确")
	ErrEmailRequired = orz.NewError(400, "请先绑定登录邮箱")
)

// 鉴权错误
var (
	ErrUnauthorized       = orz.NewError(401, "登录已失效，请重新登录")
	ErrInvalidCredentials = orz.NewError(401, "账号或密码错误")
	ErrForbidden          = orz.NewError(403, "无权限")
	ErrFeatureDisabled    = orz.NewError(403, "功能未启用")
)

// 资源不存在
var (
	ErrUserNotFound     = orz.NewError(404, "用户不存在")
	ErrSessionNotFound  = orz.NewError(404, "会话不存在")
	ErrRequestNotFound  = orz.NewError(404, "申请不存在")
	ErrAccountNotExists = orz.NewError(404, "账号未注册")
)

// 状态冲突
var (
	ErrIdentityConflict  = orz.NewError(409, "该身份已绑定其他账号")
	ErrAlreadyBound      = orz.NewError(409, "已绑定其他身份，请先解绑")
	ErrNotBound          = orz.NewError(409, "未绑定该身份")
	ErrLastLoginPath     = orz.NewError(409, "解绑后将没有任何登录方式")
	ErrOriginEmailLocked = orz.NewError(409, "邮箱注册的账号不能解绑登录邮箱")
	ErrSessionExpired    = orz.NewError(409, "二维码已过期")
	ErrSessionState      = orz.NewError(409, "会话状态不允许该操作")
	ErrRequestState      = orz.NewError(409, "申请已处理")
	ErrPendingExists     = orz.NewError(409, "已有待处理的变更申请")
	ErrIdentifierTaken   = orz.NewError(409, "该账号标识已被占用")
	ErrTooManyRequests   = orz.NewError(429, "发送过于频繁，请稍后再试")
)

// 第三方服务异常，不透传供应商错误信息
var ErrExternal = orz.NewError(502, "第三方服务异常，请稍后再试")

// 内部原因，仅用于日志与排查，对外统一表现为 ErrUnauthorized
var (
	ErrTokenVersionMismatch = errors.New("token version mismatch")
	ErrTokenSignature       = errors.New("token signature invalid")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenMalformed       = errors.New("token malformed")
)
