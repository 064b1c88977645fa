package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xuhao2004/kimochi/internal/metrics"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 轮询结果状态
const (
	PollPending   = "pending"
	PollConfirmed = "confirmed"
	PollExpired   = "expired"
	PollNotFound  = "not_found"
)

// PollResult 轮询结果
type PollResult struct {
	Status    string `json:"status"`
	Flow      string `json:"flow,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Payload   string `json:"payload,omitempty"` // 绑定流程确认后的身份，base64 编码的 JSON
}

// CompleteResult 完成扫码后的结果：登录流程返回凭证，绑定流程返回 Bound
type CompleteResult struct {
	Flow      string       `json:"flow"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt int64        `json:"expiresAt,omitempty"`
	User      *models.User `json:"user,omitempty"`
	Bound     bool         `json:"bound,omitempty"`
}

// QRLoginService 跨设备扫码登录与绑定
//
// 状态只能 pending -> confirmed -> consumed 单向推进，每步都是条件更新；
// 任何操作都先检查是否过期。
type QRLoginService struct {
	logger   *zap.Logger
	qrRepo   *repo.QRLoginRepo
	userRepo *repo.UserRepo
	tokens   *TokenService
	bindings *BindingService
	weapp    WeappExchanger
	ttl      time.Duration
	now      func() time.Time
}

func NewQRLoginService(
	logger *zap.Logger,
	db *gorm.DB,
	tokens *TokenService,
	bindings *BindingService,
	weapp WeappExchanger,
	ttl time.Duration,
) *QRLoginService {
	return &QRLoginService{
		logger:   logger,
		qrRepo:   repo.NewQRLoginRepo(db),
		userRepo: repo.NewUserRepo(db),
		tokens:   tokens,
		bindings: bindings,
		weapp:    weapp,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start 创建扫码会话；绑定流程需要发起方用户
func (s *QRLoginService) Start(ctx context.Context, flow, initiatorID string) (*models.QRLoginSession, error) {
	switch flow {
	case models.QRFlowLogin:
		initiatorID = ""
	case models.QRFlowBind:
		if initiatorID == "" {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrInvalidParams
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("生成 nonce 失败: %w", err)
	}
	now := s.now().UnixMilli()
	session := &models.QRLoginSession{
		Nonce:     nonce,
		Flow:      flow,
		Status:    models.QRStatusPending,
		UserID:    initiatorID,
		ExpiresAt: now + s.ttl.Milliseconds(),
		CreatedAt: now,
	}
	if err := s.qrRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	metrics.QRSessions.WithLabelValues(flow, "start").Inc()
	return session, nil
}

// ConfirmLogin 已登录设备确认登录会话
func (s *QRLoginService) ConfirmLogin(ctx context.Context, nonce, userID string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if _, err := s.loadActive(ctx, nonce, models.QRFlowLogin); err != nil {
		return err
	}
	return s.confirm(ctx, nonce, models.QRFlowLogin, userID, nil)
}

// ConfirmBind 小程序确认绑定会话，携带其证明的外部身份
func (s *QRLoginService) ConfirmBind(ctx context.Context, nonce string, identity models.ExternalIdentity) error {
	if identity.OpenID == "" {
		return ErrInvalidParams
	}
	if _, err := s.loadActive(ctx, nonce, models.QRFlowBind); err != nil {
		return err
	}
	payload, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return s.confirm(ctx, nonce, models.QRFlowBind, "", datatypes.JSON(payload))
}

// ConfirmBindByCode 小程序提交 wx.login code 确认绑定会话
func (s *QRLoginService) ConfirmBindByCode(ctx context.Context, nonce, jsCode string) error {
	if s.weapp == nil {
		return ErrFeatureDisabled
	}
	// 先检查会话，避免对过期会话调用外部接口
	if _, err := s.loadActive(ctx, nonce, models.QRFlowBind); err != nil {
		return err
	}
	identity, err := s.weapp.Code2Session(ctx, jsCode)
	if err != nil {
		return err
	}
	return s.ConfirmBind(ctx, nonce, *identity)
}

func (s *QRLoginService) confirm(ctx context.Context, nonce, flow, userID string, payload datatypes.JSON) error {
	ok, err := s.qrRepo.Confirm(ctx, nonce, userID, payload, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		// 并发确认或期间过期
		return s.stateError(ctx, nonce)
	}
	metrics.QRSessions.WithLabelValues(flow, "confirm").Inc()
	return nil
}

// Poll 查询会话状态；已完成的会话报告为 expired
func (s *QRLoginService) Poll(ctx context.Context, nonce string) (*PollResult, error) {
	session, err := s.qrRepo.FindByNonce(ctx, nonce)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &PollResult{Status: PollNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &PollResult{Flow: session.Flow, ExpiresAt: session.ExpiresAt}
	switch {
	case s.expired(session):
		result.Status = PollExpired
	case session.Status == models.QRStatusConsumed:
		result.Status = PollExpired
	case session.Status == models.QRStatusConfirmed:
		result.Status = PollConfirmed
		if len(session.Payload) > 0 {
			result.Payload = base64.StdEncoding.EncodeToString(session.Payload)
		}
	default:
		result.Status = PollPending
	}
	return result, nil
}

// Complete 发起方完成会话：登录流程签发凭证，绑定流程绑定外部身份
func (s *QRLoginService) Complete(ctx context.Context, nonce, callerID string) (*CompleteResult, error) {
	session, err := s.qrRepo.FindByNonce(ctx, nonce)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.expired(session) {
		return nil, ErrSessionExpired
	}
	if session.Status != models.QRStatusConfirmed {
		return nil, ErrSessionState
	}
	if session.Flow == models.QRFlowBind && session.UserID != callerID {
		return nil, ErrForbidden
	}

	ok, err := s.qrRepo.Consume(ctx, nonce, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.stateError(ctx, nonce)
	}
	metrics.QRSessions.WithLabelValues(session.Flow, "complete").Inc()

	switch session.Flow {
	case models.QRFlowLogin:
		user, err := s.userRepo.FindByID(ctx, session.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, err
		}
		token, expiresAt, err := s.tokens.Issue(user)
		if err != nil {
			return nil, err
		}
		s.logger.Info("扫码登录成功", zap.String("userId", user.ID))
		return &CompleteResult{Flow: session.Flow, Token: token, ExpiresAt: expiresAt, User: user}, nil
	default:
		var identity models.ExternalIdentity
		if err := json.Unmarshal(session.Payload, &identity); err != nil || identity.OpenID == "" {
			return nil, ErrSessionState
		}
		if err := s.bindings.Bind(ctx, session.UserID, KindWeapp, identity.OpenID, identity.UnionID); err != nil {
			return nil, err
		}
		return &CompleteResult{Flow: session.Flow, Bound: true}, nil
	}
}

// loadActive 加载未过期且流程匹配的会话
func (s *QRLoginService) loadActive(ctx context.Context, nonce, flow string) (*models.QRLoginSession, error) {
	session, err := s.qrRepo.FindByNonce(ctx, nonce)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.expired(session) {
		return nil, ErrSessionExpired
	}
	if session.Flow != flow || session.Status != models.QRStatusPending {
		return nil, ErrSessionState
	}
	return session, nil
}

func (s *QRLoginService) stateError(ctx context.Context, nonce string) error {
	session, err := s.qrRepo.FindByNonce(ctx, nonce)
	if err != nil {
		return ErrSessionNotFound
	}
	if s.expired(session) {
		return ErrSessionExpired
	}
	return ErrSessionState
}

func (s *QRLoginService) expired(session *models.QRLoginSession) bool {
	return s.now().UnixMilli() >= session.ExpiresAt
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
