package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xuhao2004/kimochi/internal/metrics"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Claims 登录凭证载荷
//
// tv 缺失的旧凭证视为有效，直到自然过期。
type Claims struct {
	jwt.RegisteredClaims
	IsAdmin      bool   `json:"adm,omitempty"`
	IsSuperAdmin bool   `json:"sadm,omitempty"`
	TokenVersion *int64 `json:"tv,omitempty"`
}

// UserID 凭证所属用户
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService 登录凭证签发与校验
type TokenService struct {
	logger   *zap.Logger
	userRepo *repo.UserRepo
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenService(logger *zap.Logger, db *gorm.DB, secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		logger:   logger,
		userRepo: repo.NewUserRepo(db),
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue 为用户签发凭证，返回凭证与过期时间（毫秒）
func (s *TokenService) Issue(user *models.User) (string, int64, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	version := user.TokenVersion
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IsAdmin:      user.IsAdmin,
		IsSuperAdmin: user.IsSuperAdmin,
		TokenVersion: &version,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("签发凭证失败: %w", err)
	}
	return signed, expiresAt.UnixMilli(), nil
}

// Verify 校验签名、有效期以及 Token 版本
//
// 所有拒绝原因对外均为 ErrUnauthorized，内部原因通过 errors.Is 可区分并记录日志。
func (s *TokenService) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		reason := ErrTokenMalformed
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			reason = ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			reason = ErrTokenSignature
		}
		return nil, s.reject(reason, "", err)
	}
	if claims.Subject == "" {
		return nil, s.reject(ErrTokenMalformed, "", nil)
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.reject(ErrUserNotFound, claims.Subject, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if claims.TokenVersion != nil && *claims.TokenVersion != user.TokenVersion {
		return nil, s.reject(ErrTokenVersionMismatch, claims.Subject, nil)
	}
	return claims, nil
}

// RevokeAll 递增用户 Token 版本，使已签发凭证全部失效
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	err := s.userRepo.IncrementTokenVersion(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("已吊销用户全部凭证", zap.String("userId", userID))
	return nil
}

func (s *TokenService) reject(reason error, userID string, cause error) error {
	label := reasonLabel(reason)
	metrics.TokenRejections.WithLabelValues(label).Inc()
	fields := []zap.Field{zap.String("reason", label)}
	if userID != "" {
		fields = append(fields, zap.String("userId", userID))
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("拒绝登录凭证", fields...)
	return fmt.Errorf("%w: %w", ErrUnauthorized, reason)
}

func reasonLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrTokenVersionMismatch):
		return "version_mismatch"
	case errors.Is(reason, ErrTokenExpired):
		return "expired"
	case errors.Is(reason, ErrTokenSignature):
		return "signature"
	case errors.Is(reason, ErrUserNotFound):
		return "user_not_found"
	}
	return "malformed"
}
