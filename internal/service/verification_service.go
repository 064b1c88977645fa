package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuhao2004/kimochi/internal/metrics"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/pkg/ratelimit"
	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IssueRequest 签发验证码参数
type IssueRequest struct {
	Contact string
	Channel string
	Purpose string
	TTL     time.Duration // 为 0 时使用默认有效期
	UserID  string
}

// SendRequest 签发并投递验证码参数
type SendRequest struct {
	Contact string
	Channel string
	Purpose string
	UserID  string
}

// VerificationService 验证码存储
//
// 同一 (contact, purpose) 任一时刻最多只有一条有效验证码：签发新码时旧码被作废。
type VerificationService struct {
	logger    *zap.Logger
	db        *gorm.DB
	codeRepo  *repo.VerificationCodeRepo
	limiter   *ratelimit.SendLimiter
	mailer    Mailer
	sms       SMSSender
	templates *TemplateRenderer

	enabled    bool
	pepper     []byte
	length     int
	defaultTTL time.Duration

	now      func() time.Time
	generate func(length int) (string, error)
}

func NewVerificationService(
	logger *zap.Logger,
	db *gorm.DB,
	limiter *ratelimit.SendLimiter,
	mailer Mailer,
	sms SMSSender,
	templates *TemplateRenderer,
	enabled bool,
	pepper string,
	length int,
	defaultTTL time.Duration,
) *VerificationService {
	return &VerificationService{
		logger:     logger,
		db:         db,
		codeRepo:   repo.NewVerificationCodeRepo(db),
		limiter:    limiter,
		mailer:     mailer,
		sms:        sms,
		templates:  templates,
		enabled:    enabled,
		pepper:     []byte(pepper),
		length:     length,
		defaultTTL: defaultTTL,
		now:        time.Now,
		generate:   GenerateNumericCode,
	}
}

// WithTx 返回在事务 tx 内读写验证码的副本
func (s *VerificationService) WithTx(tx *gorm.DB) *VerificationService {
	c := *s
	c.db = tx
	c.codeRepo = repo.NewVerificationCodeRepo(tx)
	return &c
}

// Enabled 验证码功能是否开启
func (s *VerificationService) Enabled() bool {
	return s.enabled
}

// Issue 生成验证码，仅持久化其哈希，明文返回给调用方用于投递
func (s *VerificationService) Issue(ctx context.Context, req IssueRequest) (string, error) {
	contact := NormalizeContact(req.Channel, req.Contact)
	if contact == "" || !models.ValidPurpose(req.Purpose) {
		return "", ErrInvalidParams
	}
	if req.Channel != models.ChannelEmail && req.Channel != models.ChannelPhone {
		return "", ErrInvalidParams
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	code, err := s.generate(s.length)
	if err != nil {
		return "", fmt.Errorf("生成验证码失败: %w", err)
	}

	now := s.now().UnixMilli()
	record := &models.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Contact:   contact,
		Channel:   req.Channel,
		Purpose:   req.Purpose,
		CodeHash:  s.hash(contact, req.Purpose, code),
		ExpiresAt: now + ttl.Milliseconds(),
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codeRepo := repo.NewVerificationCodeRepo(tx)
		superseded, err := codeRepo.SupersedeOutstanding(ctx, contact, req.Purpose, now)
		if err != nil {
			return err
		}
		if superseded > 0 {
			s.logger.Debug("旧验证码已作废",
				zap.String("purpose", req.Purpose),
				zap.Int64("count", superseded))
		}
		return codeRepo.Create(ctx, record)
	})
	if err != nil {
		return "", fmt.Errorf("保存验证码失败: %w", err)
	}

	metrics.CodesIssued.WithLabelValues(req.Purpose, req.Channel).Inc()
	return code, nil
}

// VerifyAndConsume 校验并消费验证码
//
// 错误、过期、已使用三种情况对调用方不可区分，均返回 false。
func (s *VerificationService) VerifyAndConsume(ctx context.Context, contact, purpose, code string) (bool, error) {
	ok, err := s.verifyAndConsume(ctx, contact, purpose, code)
	result := "fail"
	if ok {
		result = "ok"
	}
	if err != nil {
		result = "error"
	}
	metrics.CodeVerifications.WithLabelValues(purpose, result).Inc()
	return ok, err
}

func (s *VerificationService) verifyAndConsume(ctx context.Context, contact, purpose, code string) (bool, error) {
	code = strings.TrimSpace(code)
	contact = NormalizeContact(guessChannel(contact), contact)
	if contact == "" || code == "" || !models.ValidPurpose(purpose) {
		return false, nil
	}

	now := s.now().UnixMilli()
	record, err := s.codeRepo.FindLatestActive(ctx, contact, purpose, now)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询验证码失败: %w", err)
	}

	expected, err := hex.DecodeString(record.CodeHash)
	if err != nil {
		return false, nil
	}
	actual, _ := hex.DecodeString(s.hash(contact, purpose, code))
	if !hmac.Equal(expected, actual) {
		return false, nil
	}

	consumed, err := s.codeRepo.MarkConsumed(ctx, record.ID, now)
	if err != nil {
		return false, fmt.Errorf("消费验证码失败: %w", err)
	}
	return consumed, nil
}

// Verify 校验并消费验证码，失败统一返回 ErrInvalidCode
func (s *VerificationService) Verify(ctx context.Context, contact, purpose, code string) error {
	ok, err := s.VerifyAndConsume(ctx, contact, purpose, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// Send 频控后签发验证码并通过邮件或短信投递，返回明文（仅供开发域名回显）
func (s *VerificationService) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := s.Throttle(ctx, req.Channel, req.Purpose, req.Contact); err != nil {
		return "", err
	}
	return s.IssueAndDeliver(ctx, req)
}

// Throttle 校验参数并占用一次 (purpose, contact) 发送额度
func (s *VerificationService) Throttle(ctx context.Context, channel, purpose, contact string) error {
	if !s.enabled {
		return ErrFeatureDisabled
	}
	contact = NormalizeContact(channel, contact)
	if contact == "" || !models.ValidPurpose(purpose) {
		return ErrInvalidParams
	}
	if channel != models.ChannelEmail && channel != models.ChannelPhone {
		return ErrInvalidParams
	}
	if s.limiter == nil {
		return nil
	}
	allowed, retryAfter, err := s.limiter.Allow(ctx, purpose+":"+contact)
	if err != nil {
		// 频控依赖故障时放行，验证码本身仍受有效期与一次性约束
		s.logger.Warn("发送频控检查失败", zap.Error(err))
		return nil
	}
	if !allowed {
		s.logger.Info("验证码发送被限流",
			zap.String("purpose", purpose),
			zap.Duration("retryAfter", retryAfter))
		return ErrTooManyRequests
	}
	return nil
}

// IssueAndDeliver 签发并投递验证码，不做频控，调用方需先调用 Throttle
func (s *VerificationService) IssueAndDeliver(ctx context.Context, req SendRequest) (string, error) {
	if !s.enabled {
		return "", ErrFeatureDisabled
	}
	contact := NormalizeContact(req.Channel, req.Contact)
	code, err := s.Issue(ctx, IssueRequest{
		Contact: contact,
		Channel: req.Channel,
		Purpose: req.Purpose,
		UserID:  req.UserID,
	})
	if err != nil {
		return "", err
	}

	if err := s.deliver(ctx, contact, req.Channel, req.Purpose, code); err != nil {
		s.logger.Error("验证码投递失败",
			zap.String("purpose", req.Purpose),
			zap.String("channel", req.Channel),
			zap.Error(err))
		metrics.NotificationFailures.WithLabelValues(req.Channel).Inc()
		return "", ErrExternal
	}
	return code, nil
}

func (s *VerificationService) deliver(ctx context.Context, contact, channel, purpose, code string) error {
	vars := map[string]string{
		"code":    code,
		"minutes": strconv.Itoa(int(s.defaultTTL / time.Minute)),
		"contact": contact,
	}
	switch channel {
	case models.ChannelEmail:
		if s.mailer == nil {
			return errors.New("mailer not configured")
		}
		msg, err := s.templates.Render("code."+purpose, vars)
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, contact, msg.Subject, msg.Body)
	case models.ChannelPhone:
		if s.sms == nil {
			return errors.New("sms sender not configured")
		}
		msg, err := s.templates.Render("sms.code", vars)
		if err != nil {
			return err
		}
		return s.sms.Send(ctx, contact, msg.Body)
	}
	return fmt.Errorf("unknown channel %q", channel)
}

func (s *VerificationService) hash(contact, purpose, code string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(contact))
	mac.Write([]byte{0})
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateNumericCode 使用 crypto/rand 生成定长数字验证码
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid code length")
	}
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NormalizeContact 邮箱统一小写，手机号去空白
func NormalizeContact(channel, contact string) string {
	contact = strings.TrimSpace(contact)
	if channel == models.ChannelEmail {
		return strings.ToLower(contact)
	}
	return contact
}

func guessChannel(contact string) string {
	if strings.Contains(contact, "@") {
		return models.ChannelEmail
	}
	return models.ChannelPhone
}
