package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expiresAt"` // 过期时间（时间戳毫秒）
	User      *models.User `json:"user"`
}

// RegisterRequest 邮箱注册参数
type RegisterRequest struct {
	Email    string
	Password string
	Nickname string
	Code     string
}

// AccountService 账号注册与登录
type AccountService struct {
	logger       *zap.Logger
	userRepo     *repo.UserRepo
	tokens       *TokenService
	verification *VerificationService
	weapp        WeappExchanger
	now          func() time.Time
}

func NewAccountService(
	logger *zap.Logger,
	db *gorm.DB,
	tokens *TokenService,
	verification *VerificationService,
	weapp WeappExchanger,
) *AccountService {
	return &AccountService{
		logger:       logger,
		userRepo:     repo.NewUserRepo(db),
		tokens:       tokens,
		verification: verification,
		weapp:        weapp,
		now:          time.Now,
	}
}

// SendRegisterCode 发送注册验证码
func (s *AccountService) SendRegisterCode(ctx context.Context, email string) (string, error) {
	email = NormalizeContact(models.ChannelEmail, email)
	if emailValidator.Var(email, "required,email") != nil {
		return "", ErrInvalidEmail
	}
	if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
		return "", ErrIdentifierTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	return s.verification.Send(ctx, SendRequest{
		Contact: email,
		Channel: models.ChannelEmail,
		Purpose: models.PurposeRegister,
	})
}

// Register 邮箱注册，开启验证码功能时需先验证邮箱
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error) {
	email := NormalizeContact(models.ChannelEmail, req.Email)
	if emailValidator.Var(email, "required,email") != nil {
		return nil, ErrInvalidEmail
	}
	if len(req.Password) < 8 {
		return nil, ErrInvalidParams
	}
	if s.verification.Enabled() {
		if err := s.verification.Verify(ctx, email, models.PurposeRegister, req.Code); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = strings.SplitN(email, "@", 2)[0]
	}
	now := s.now().UnixMilli()
	user := &models.User{
		ID:            uuid.NewString(),
		Nickname:      nickname,
		PasswordHash:  string(hash),
		Email:         models.StringPtr(email),
		RegisteredVia: models.RegisteredViaEmail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrIdentifierTaken
		}
		return nil, err
	}

	s.logger.Info("用户注册", zap.String("userId", user.ID))
	return s.issue(user)
}

// Login 邮箱密码登录
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = NormalizeContact(models.ChannelEmail, email)
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("用户登录成功", zap.String("userId", user.ID))
	return s.issue(user)
}

// LoginByWeapp 小程序登录，首次登录时创建账号
func (s *AccountService) LoginByWeapp(ctx context.Context, jsCode string) (*LoginResponse, error) {
	if s.weapp == nil {
		return nil, ErrFeatureDisabled
	}
	identity, err := s.weapp.Code2Session(ctx, jsCode)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByWeappOpenID(ctx, identity.OpenID)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	other, err := s.userRepo.FindOtherOwner(ctx, "", map[string]string{"weapp_union_id": identity.UnionID})
	if err != nil {
		return nil, err
	}
	if other != nil {
		return nil, ErrIdentityConflict
	}

	now := s.now().UnixMilli()
	user = &models.User{
		ID:            uuid.NewString(),
		Nickname:      "微信用户",
		WeappOpenID:   models.StringPtr(identity.OpenID),
		WeappUnionID:  models.StringPtr(identity.UnionID),
		WeappBoundAt:  now,
		RegisteredVia: models.RegisteredViaWeapp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}
		// 并发首次登录，另一个请求已创建
		user, err = s.userRepo.FindByWeappOpenID(ctx, identity.OpenID)
		if err != nil {
			return nil, ErrIdentityConflict
		}
	} else {
		s.logger.Info("小程序用户注册", zap.String("userId", user.ID))
	}
	return s.issue(user)
}

// LoginByOIDC OIDC 登录，首次登录时创建账号
func (s *AccountService) LoginByOIDC(ctx context.Context, identity *OIDCIdentity) (*LoginResponse, error) {
	user, err := s.userRepo.FindByOIDCSubject(ctx, identity.Subject)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.now().UnixMilli()
	user = &models.User{
		ID:            uuid.NewString(),
		Nickname:      strings.SplitN(identity.Email, "@", 2)[0],
		OIDCSubject:   models.StringPtr(identity.Subject),
		OIDCBoundAt:   now,
		RegisteredVia: models.RegisteredViaOIDC,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrIdentityConflict
		}
		return nil, err
	}
	s.logger.Info("OIDC 用户注册", zap.String("userId", user.ID))
	return s.issue(user)
}

// SendLoginCode 发送登录验证码，邮箱未注册时静默返回
func (s *AccountService) SendLoginCode(ctx context.Context, email string) (string, error) {
	return s.sendIfRegistered(ctx, email, models.PurposeEmailLogin)
}

// LoginByCode 邮箱验证码登录
func (s *AccountService) LoginByCode(ctx context.Context, email, code string) (*LoginResponse, error) {
	email = NormalizeContact(models.ChannelEmail, email)
	if err := s.verification.Verify(ctx, email, models.PurposeEmailLogin, code); err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// ForgotPassword 发送重置密码验证码，无论邮箱是否注册都返回相同结果
func (s *AccountService) ForgotPassword(ctx context.Context, email string) (string, error) {
	return s.sendIfRegistered(ctx, email, models.PurposePasswordReset)
}

// ResetPassword 校验验证码后重置密码，并吊销全部已签发凭证
func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrInvalidParams
	}
	email = NormalizeContact(models.ChannelEmail, email)
	if err := s.verification.Verify(ctx, email, models.PurposePasswordReset, code); err != nil {
		return err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.logger.Info("用户重置密码", zap.String("userId", user.ID))
	return nil
}

// Me 当前用户信息
func (s *AccountService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// LogoutAll 退出全部设备
func (s *AccountService) LogoutAll(ctx context.Context, userID string) error {
	return s.tokens.RevokeAll(ctx, userID)
}

// sendIfRegistered 已注册与未注册邮箱的返回保持一致：频控先于查询，投递失败不向调用方暴露
func (s *AccountService) sendIfRegistered(ctx context.Context, email, purpose string) (string, error) {
	email = NormalizeContact(models.ChannelEmail, email)
	if emailValidator.Var(email, "required,email") != nil {
		return "", ErrInvalidEmail
	}
	if err := s.verification.Throttle(ctx, models.ChannelEmail, purpose, email); err != nil {
		return "", err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Debug("邮箱未注册，跳过发送", zap.String("purpose", purpose))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	code, err := s.verification.IssueAndDeliver(ctx, SendRequest{
		Contact: email,
		Channel: models.ChannelEmail,
		Purpose: purpose,
		UserID:  user.ID,
	})
	if errors.Is(err, ErrExternal) {
		// 已在投递处记录日志与失败计数
		return "", nil
	}
	return code, err
}

func (s *AccountService) issue(user *models.User) (*LoginResponse, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
