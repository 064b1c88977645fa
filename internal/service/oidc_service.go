package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/xuhao2004/kimochi/internal/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OIDCIdentity OIDC 登录得到的身份
type OIDCIdentity struct {
	Subject string // issuer|sub，全局唯一
	Email   string
}

// OIDCService OIDC 授权码登录
//
// Provider 在首次使用时才做发现，避免启动时依赖外部网络。
type OIDCService struct {
	logger *zap.Logger
	cfg    *config.OIDCConfig

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

func NewOIDCService(logger *zap.Logger, cfg *config.OIDCConfig) *OIDCService {
	return &OIDCService{
		logger: logger,
		cfg:    cfg,
	}
}

// Enabled 是否已配置
func (s *OIDCService) Enabled() bool {
	return s != nil && s.cfg != nil && s.cfg.Issuer != "" && s.cfg.ClientID != ""
}

func (s *OIDCService) init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifier != nil {
		return nil
	}

	provider, err := oidc.NewProvider(ctx, s.cfg.Issuer)
	if err != nil {
		return fmt.Errorf("OIDC 发现失败: %w", err)
	}
	s.verifier = provider.Verifier(&oidc.Config{ClientID: s.cfg.ClientID})
	s.oauth = &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		RedirectURL:  s.cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       s.cfg.Scopes,
	}
	return nil
}

// AuthURL 授权跳转地址
func (s *OIDCService) AuthURL(ctx context.Context, state string) (string, error) {
	if !s.Enabled() {
		return "", ErrFeatureDisabled
	}
	if err := s.init(ctx); err != nil {
		s.logger.Error("初始化 OIDC 失败", zap.Error(err))
		return "", ErrExternal
	}
	return s.oauth.AuthCodeURL(state), nil
}

// Exchange 用授权码换取并校验 ID Token
func (s *OIDCService) Exchange(ctx context.Context, code string) (*OIDCIdentity, error) {
	if !s.Enabled() {
		return nil, ErrFeatureDisabled
	}
	if code == "" {
		return nil, ErrInvalidParams
	}
	if err := s.init(ctx); err != nil {
		s.logger.Error("初始化 OIDC 失败", zap.Error(err))
		return nil, ErrExternal
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("OIDC 授权码换取失败", zap.Error(err))
		return nil, ErrExternal
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		s.logger.Warn("OIDC 响应缺少 id_token")
		return nil, ErrExternal
	}
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		s.logger.Warn("OIDC ID Token 校验失败", zap.Error(err))
		return nil, ErrExternal
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, ErrExternal
	}

	identity := &OIDCIdentity{Subject: idToken.Issuer + "|" + idToken.Subject}
	if claims.EmailVerified {
		identity.Email = claims.Email
	}
	return identity, nil
}
