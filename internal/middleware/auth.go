package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/service"
)

// 上下文键
const (
	ContextUserID = "userID"
	ContextClaims = "claims"
)

// TokenVerifier 凭证校验
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*service.Claims, error)
}

// Auth Bearer 凭证校验，失败一律返回 401
func Auth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return service.ErrUnauthorized
			}
			claims, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				return service.ErrUnauthorized
			}
			c.Set(ContextUserID, claims.UserID())
			c.Set(ContextClaims, claims)
			return next(c)
		}
	}
}

// OptionalAuth 携带凭证时解析用户，未携带或无效时按匿名处理
func OptionalAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := bearerToken(c); token != "" {
				if claims, err := verifier.Verify(c.Request().Context(), token); err == nil {
					c.Set(ContextUserID, claims.UserID())
					c.Set(ContextClaims, claims)
				}
			}
			return next(c)
		}
	}
}

// RequireAdmin 仅管理员可访问
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := c.Get(ContextClaims).(*service.Claims)
		if !ok {
			return service.ErrUnauthorized
		}
		if !claims.IsAdmin && !claims.IsSuperAdmin {
			return service.ErrForbidden
		}
		return next(c)
	}
}

// Feature 功能开关，关闭时直接返回“功能未启用”
func Feature(enabled bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !enabled {
				return service.ErrFeatureDisabled
			}
			return next(c)
		}
	}
}

// UserID 当前登录用户，未登录返回空串
func UserID(c echo.Context) string {
	userID, _ := c.Get(ContextUserID).(string)
	return userID
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
