package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xuhao2004/kimochi/internal/metrics"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IdentityKind 可绑定的外部身份类型
type IdentityKind string

const (
	KindEmail  IdentityKind = "email"
	KindPhone  IdentityKind = "phone"
	KindWechat IdentityKind = "wechat"
	KindWeapp  IdentityKind = "weapp"
	KindOIDC   IdentityKind = "oidc"
)

// identityColumns 身份类型到用户表列的映射
type identityColumns struct {
	handle    string
	secondary string
	boundAt   string
}

var identityTable = map[IdentityKind]identityColumns{
	KindEmail:  {handle: "email"},
	KindPhone:  {handle: "phone"},
	KindWechat: {handle: "wechat_open_id", secondary: "wechat_union_id", boundAt: "wechat_bound_at"},
	KindWeapp:  {handle: "weapp_open_id", secondary: "weapp_union_id", boundAt: "weapp_bound_at"},
	KindOIDC:   {handle: "oidc_subject", boundAt: "oidc_bound_at"},
}

// loginKinds 可用于登录的身份，安全邮箱不在其中
var loginKinds = []IdentityKind{KindEmail, KindPhone, KindWechat, KindWeapp, KindOIDC}

// ParseIdentityKind 解析身份类型
func ParseIdentityKind(s string) (IdentityKind, bool) {
	kind := IdentityKind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := identityTable[kind]
	return kind, ok
}

// IdentityValue 读取用户某类身份的主标识
func IdentityValue(user *models.User, kind IdentityKind) string {
	switch kind {
	case KindEmail:
		return models.StringValue(user.Email)
	case KindPhone:
		return models.StringValue(user.Phone)
	case KindWechat:
		return models.StringValue(user.WechatOpenID)
	case KindWeapp:
		return models.StringValue(user.WeappOpenID)
	case KindOIDC:
		return models.StringValue(user.OIDCSubject)
	}
	return ""
}

// LoginPaths 用户当前可用的登录方式
func LoginPaths(user *models.User) []IdentityKind {
	var paths []IdentityKind
	for _, kind := range loginKinds {
		if IdentityValue(user, kind) != "" {
			paths = append(paths, kind)
		}
	}
	return paths
}

// WeappExchanger 小程序 code 换取身份
type WeappExchanger interface {
	Code2Session(ctx context.Context, jsCode string) (*models.ExternalIdentity, error)
}

// WechatExchanger 微信网页授权 code 换取身份
type WechatExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*models.ExternalIdentity, error)
}

// BindingService 外部身份绑定
//
// 一个外部身份最多属于一个用户；绑定只能通过显式解绑转移。
type BindingService struct {
	logger       *zap.Logger
	db           *gorm.DB
	userRepo     *repo.UserRepo
	verification *VerificationService
	weapp        WeappExchanger
	wechat       WechatExchanger
	now          func() time.Time
}

func NewBindingService(
	logger *zap.Logger,
	db *gorm.DB,
	verification *VerificationService,
	weapp WeappExchanger,
	wechat WechatExchanger,
) *BindingService {
	return &BindingService{
		logger:       logger,
		db:           db,
		userRepo:     repo.NewUserRepo(db),
		verification: verification,
		weapp:        weapp,
		wechat:       wechat,
		now:          time.Now,
	}
}

// Bind 将外部身份绑定到用户
//
// 已属于该用户时幂等成功；属于其他用户时返回 ErrIdentityConflict。
func (s *BindingService) Bind(ctx context.Context, userID string, kind IdentityKind, handle, secondary string) error {
	cols, ok := identityTable[kind]
	if !ok {
		return ErrInvalidParams
	}
	handle = normalizeHandle(kind, handle)
	secondary = strings.TrimSpace(secondary)
	if handle == "" {
		return ErrInvalidParams
	}
	if kind == KindEmail && emailValidator.Var(handle, "email") != nil {
		return ErrInvalidEmail
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}

	current := IdentityValue(user, kind)
	if current == handle {
		return nil
	}
	if current != "" {
		return ErrAlreadyBound
	}

	lookup := map[string]string{cols.handle: handle}
	if cols.secondary != "" {
		lookup[cols.secondary] = secondary
	}
	other, err := s.userRepo.FindOtherOwner(ctx, userID, lookup)
	if err != nil {
		return fmt.Errorf("查询身份归属失败: %w", err)
	}
	if other != nil {
		return s.conflict(userID, kind)
	}

	fields := map[string]interface{}{cols.handle: handle}
	if cols.secondary != "" {
		fields[cols.secondary] = models.StringPtr(secondary)
	}
	if cols.boundAt != "" {
		fields[cols.boundAt] = s.now().UnixMilli()
	}
	if err := s.userRepo.UpdateFields(ctx, userID, fields); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// 并发绑定时由唯一索引兜底
			return s.conflict(userID, kind)
		}
		return err
	}

	s.logger.Info("绑定外部身份", zap.String("userId", userID), zap.String("kind", string(kind)))
	return nil
}

// Unbind 解绑外部身份
//
// 解绑后用户必须仍至少保留一种登录方式；邮箱注册的账号不能解绑登录邮箱。
func (s *BindingService) Unbind(ctx context.Context, userID string, kind IdentityKind) error {
	cols, ok := identityTable[kind]
	if !ok {
		return ErrInvalidParams
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := checkUnbindable(user, kind); err != nil {
		return err
	}

	fields := map[string]interface{}{cols.handle: nil}
	if cols.secondary != "" {
		fields[cols.secondary] = nil
	}
	if cols.boundAt != "" {
		fields[cols.boundAt] = 0
	}

	var remaining []string
	for _, other := range loginKinds {
		if other != kind {
			remaining = append(remaining, identityTable[other].handle)
		}
	}

	// 条件更新，保证并发解绑不会清空全部登录方式
	ok, err = s.userRepo.ClearIdentity(ctx, userID, fields, remaining)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLastLoginPath
	}

	s.logger.Info("解绑外部身份", zap.String("userId", userID), zap.String("kind", string(kind)))
	return nil
}

// checkUnbindable 解绑前的状态检查，须在消费验证码等任何修改之前执行
func checkUnbindable(user *models.User, kind IdentityKind) error {
	if IdentityValue(user, kind) == "" {
		return ErrNotBound
	}
	if kind == KindEmail && user.RegisteredVia == models.RegisteredViaEmail {
		return ErrOriginEmailLocked
	}
	if len(LoginPaths(user)) <= 1 {
		return ErrLastLoginPath
	}
	return nil
}

// LoginPaths 查询用户当前可用的登录方式
func (s *BindingService) LoginPaths(ctx context.Context, userID string) ([]IdentityKind, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return LoginPaths(user), nil
}

// BindWeappByCode 使用小程序 code 绑定
func (s *BindingService) BindWeappByCode(ctx context.Context, userID, jsCode string) error {
	if s.weapp == nil {
		return ErrFeatureDisabled
	}
	identity, err := s.weapp.Code2Session(ctx, jsCode)
	if err != nil {
		return err
	}
	return s.Bind(ctx, userID, KindWeapp, identity.OpenID, identity.UnionID)
}

// BindWechatByCode 使用微信网页授权 code 绑定
func (s *BindingService) BindWechatByCode(ctx context.Context, userID, code string) error {
	if s.wechat == nil {
		return ErrFeatureDisabled
	}
	identity, err := s.wechat.Exchange(ctx, code)
	if err != nil {
		return err
	}
	return s.Bind(ctx, userID, KindWechat, identity.OpenID, identity.UnionID)
}

// SendEmailUnbindCode 向登录邮箱发送解绑验证码
func (s *BindingService) SendEmailUnbindCode(ctx context.Context, userID string) (string, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return "", err
	}
	email := models.StringValue(user.Email)
	if email == "" {
		return "", ErrNotBound
	}
	return s.verification.Send(ctx, SendRequest{
		Contact: email,
		Channel: models.ChannelEmail,
		Purpose: models.PurposeEmailUnbind,
		UserID:  userID,
	})
}

// UnbindEmailWithCode 校验登录邮箱验证码后解绑邮箱
func (s *BindingService) UnbindEmailWithCode(ctx context.Context, userID, code string) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := checkUnbindable(user, KindEmail); err != nil {
		return err
	}
	email := models.StringValue(user.Email)
	if err := s.verification.Verify(ctx, email, models.PurposeEmailUnbind, code); err != nil {
		return err
	}
	return s.Unbind(ctx, userID, KindEmail)
}

// SendWeappRebindCode 向登录邮箱发送更换小程序绑定的验证码
func (s *BindingService) SendWeappRebindCode(ctx context.Context, userID string) (string, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return "", err
	}
	email := models.StringValue(user.Email)
	if email == "" {
		return "", ErrEmailRequired
	}
	return s.verification.Send(ctx, SendRequest{
		Contact: email,
		Channel: models.ChannelEmail,
		Purpose: models.PurposeWeappRebind,
		UserID:  userID,
	})
}

// RebindWeapp 校验验证码后将小程序身份替换为新的身份
func (s *BindingService) RebindWeapp(ctx context.Context, userID, code, jsCode string) error {
	if s.weapp == nil {
		return ErrFeatureDisabled
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	email := models.StringValue(user.Email)
	if email == "" {
		return ErrEmailRequired
	}

	identity, err := s.weapp.Code2Session(ctx, jsCode)
	if err != nil {
		return err
	}
	other, err := s.userRepo.FindOtherOwner(ctx, userID, map[string]string{
		"weapp_open_id":  identity.OpenID,
		"weapp_union_id": identity.UnionID,
	})
	if err != nil {
		return fmt.Errorf("查询身份归属失败: %w", err)
	}
	if other != nil {
		return s.conflict(userID, KindWeapp)
	}

	if err := s.verification.Verify(ctx, email, models.PurposeWeappRebind, code); err != nil {
		return err
	}
	if identity.OpenID == models.StringValue(user.WeappOpenID) {
		return nil
	}

	err = s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"weapp_open_id":  identity.OpenID,
		"weapp_union_id": models.StringPtr(identity.UnionID),
		"weapp_bound_at": s.now().UnixMilli(),
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return s.conflict(userID, KindWeapp)
	}
	if err != nil {
		return err
	}
	s.logger.Info("更换小程序绑定", zap.String("userId", userID))
	return nil
}

// SendSecurityEmailCode 向待设置的安全邮箱发送验证码
func (s *BindingService) SendSecurityEmailCode(ctx context.Context, userID, email string) (string, error) {
	email = NormalizeContact(models.ChannelEmail, email)
	if emailValidator.Var(email, "required,email") != nil {
		return "", ErrInvalidEmail
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return "", err
	}
	return s.verification.Send(ctx, SendRequest{
		Contact: email,
		Channel: models.ChannelEmail,
		Purpose: models.PurposeSecurityEmail,
		UserID:  userID,
	})
}

// BindSecurityEmail 校验验证码后设置安全邮箱，安全邮箱不能用于登录
func (s *BindingService) BindSecurityEmail(ctx context.Context, userID, email, code string) error {
	email = NormalizeContact(models.ChannelEmail, email)
	if emailValidator.Var(email, "required,email") != nil {
		return ErrInvalidEmail
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}
	if err := s.verification.Verify(ctx, email, models.PurposeSecurityEmail, code); err != nil {
		return err
	}
	return s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"security_email": email,
	})
}

func (s *BindingService) findUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BindingService) conflict(userID string, kind IdentityKind) error {
	metrics.BindingConflicts.Inc()
	s.logger.Warn("外部身份已被其他账号绑定",
		zap.String("userId", userID),
		zap.String("kind", string(kind)))
	return ErrIdentityConflict
}

func normalizeHandle(kind IdentityKind, handle string) string {
	handle = strings.TrimSpace(handle)
	if kind == KindEmail {
		return strings.ToLower(handle)
	}
	return handle
}
