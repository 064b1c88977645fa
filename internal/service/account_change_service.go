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
	"gorm.io/gorm"
)

var changeTypeNames = map[string]string{
	models.ChangeTypeEmail: "邮箱",
	models.ChangeTypePhone: "手机号",
}

// AccountChangeService 敏感标识变更：用户申请，管理员审核，可用当前标识接收验证码撤销
type AccountChangeService struct {
	logger       *zap.Logger
	db           *gorm.DB
	changeRepo   *repo.AccountChangeRepo
	userRepo     *repo.UserRepo
	verification *VerificationService
	notifier     *Notifier
	now          func() time.Time
}

func NewAccountChangeService(
	logger *zap.Logger,
	db *gorm.DB,
	verification *VerificationService,
	notifier *Notifier,
) *AccountChangeService {
	return &AccountChangeService{
		logger:       logger,
		db:           db,
		changeRepo:   repo.NewAccountChangeRepo(db),
		userRepo:     repo.NewUserRepo(db),
		verification: verification,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Request 提交变更申请
func (s *AccountChangeService) Request(ctx context.Context, userID, changeType, newValue string) (*models.AccountChangeRequest, error) {
	column, channel, ok := changeTarget(changeType)
	if !ok {
		return nil, ErrInvalidParams
	}
	newValue = NormalizeContact(channel, newValue)
	if newValue == "" {
		return nil, ErrInvalidParams
	}
	if changeType == models.ChangeTypeEmail && emailValidator.Var(newValue, "email") != nil {
		return nil, ErrInvalidEmail
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	currentValue := currentIdentifier(user, changeType)
	if currentValue == newValue {
		return nil, ErrInvalidParams
	}

	if _, err := s.changeRepo.FindPending(ctx, userID, changeType); err == nil {
		return nil, ErrPendingExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	other, err := s.userRepo.FindOtherOwner(ctx, userID, map[string]string{column: newValue})
	if err != nil {
		return nil, err
	}
	if other != nil {
		return nil, ErrIdentifierTaken
	}

	now := s.now().UnixMilli()
	req := &models.AccountChangeRequest{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChangeType:   changeType,
		CurrentValue: currentValue,
		NewValue:     newValue,
		Status:       models.ChangeStatusPending,
		CreatedAt:    now,
	}
	vars := changeVars(req)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.NewAccountChangeRepo(tx).Create(ctx, req); err != nil {
			return err
		}
		notificationRepo := repo.NewNotificationRepo(tx)
		if err := notificationRepo.CreateAdminNotification(ctx, &models.AdminNotification{
			ID:        uuid.NewString(),
			RefType:   models.AdminRefAccountChange,
			RefID:     req.ID,
			Message:   fmt.Sprintf("用户 %s 申请变更%s", userID, vars["changeType"]),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return notificationRepo.CreateUserNotification(ctx, &models.UserNotification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     "账号变更申请已提交",
			Content:   fmt.Sprintf("你的%s变更申请已提交，等待管理员审核。", vars["changeType"]),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("保存变更申请失败: %w", err)
	}

	s.logger.Info("提交账号变更申请",
		zap.String("userId", userID),
		zap.String("requestId", req.ID),
		zap.String("changeType", changeType))

	s.notifier.NotifyEmail(ctx, req.CurrentValue, "account_change.requested", vars)
	s.notifier.NotifyEmail(ctx, req.NewValue, "account_change.requested", vars)
	s.notifier.NotifyAdmins(ctx, "admin.account_change", vars)
	return req, nil
}

// SendCancelCode 向当前标识发送撤销验证码
func (s *AccountChangeService) SendCancelCode(ctx context.Context, requestID string) (string, error) {
	req, err := s.findPending(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.CurrentValue == "" {
		return "", ErrInvalidParams
	}
	_, channel, _ := changeTarget(req.ChangeType)
	return s.verification.Send(ctx, SendRequest{
		Contact: req.CurrentValue,
		Channel: channel,
		Purpose: models.PurposeAccountChangeCancel,
		UserID:  req.UserID,
	})
}

// Cancel 使用发往当前标识的验证码撤销申请
func (s *AccountChangeService) Cancel(ctx context.Context, requestID, code string) error {
	req, err := s.findPending(ctx, requestID)
	if err != nil {
		return err
	}
	if req.CurrentValue == "" {
		return ErrInvalidCode
	}

	now := s.now().UnixMilli()
	vars := changeVars(req)
	// 状态迁移先于消费验证码，任一失败整体回滚
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.NewAccountChangeRepo(tx).Transition(ctx, req.ID, models.ChangeStatusCancelled, req.UserID, "", now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRequestState
		}
		if err := s.verification.WithTx(tx).Verify(ctx, req.CurrentValue, models.PurposeAccountChangeCancel, code); err != nil {
			return err
		}
		notificationRepo := repo.NewNotificationRepo(tx)
		if err := notificationRepo.MarkAdminProcessed(ctx, models.AdminRefAccountChange, req.ID, now); err != nil {
			return err
		}
		return notificationRepo.CreateUserNotification(ctx, &models.UserNotification{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			Title:     "账号变更申请已撤销",
			Content:   fmt.Sprintf("你的%s变更申请已撤销。", vars["changeType"]),
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("撤销账号变更申请", zap.String("requestId", req.ID))
	s.notifier.NotifyEmail(ctx, req.CurrentValue, "account_change.cancelled", vars)
	s.notifier.NotifyEmail(ctx, req.NewValue, "account_change.cancelled", vars)
	return nil
}

// Approve 管理员通过申请
//
// 更新标识、递增 Token 版本、标记申请与待办在同一事务中完成。
func (s *AccountChangeService) Approve(ctx context.Context, adminID, requestID string) error {
	req, err := s.findPending(ctx, requestID)
	if err != nil {
		return err
	}
	column, _, ok := changeTarget(req.ChangeType)
	if !ok {
		return ErrInvalidParams
	}

	now := s.now().UnixMilli()
	vars := changeVars(req)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.NewAccountChangeRepo(tx).Transition(ctx, req.ID, models.ChangeStatusApproved, adminID, "", now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRequestState
		}

		err = repo.NewUserRepo(tx).UpdateFields(ctx, req.UserID, map[string]interface{}{
			column:          req.NewValue,
			"token_version": gorm.Expr("token_version + 1"),
		})
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrIdentifierTaken
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		notificationRepo := repo.NewNotificationRepo(tx)
		if err := notificationRepo.MarkAdminProcessed(ctx, models.AdminRefAccountChange, req.ID, now); err != nil {
			return err
		}
		return notificationRepo.CreateUserNotification(ctx, &models.UserNotification{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			Title:     "账号变更申请已通过",
			Content:   fmt.Sprintf("你的%s已变更为 %s，请重新登录。", vars["changeType"], req.NewValue),
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("通过账号变更申请",
		zap.String("requestId", req.ID),
		zap.String("adminId", adminID))
	s.notifier.NotifyEmail(ctx, req.CurrentValue, "account_change.approved", vars)
	s.notifier.NotifyEmail(ctx, req.NewValue, "account_change.approved", vars)
	return nil
}

// Reject 管理员驳回申请
func (s *AccountChangeService) Reject(ctx context.Context, adminID, requestID, reason string) error {
	req, err := s.findPending(ctx, requestID)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)

	now := s.now().UnixMilli()
	vars := changeVars(req)
	vars["reason"] = reason
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.NewAccountChangeRepo(tx).Transition(ctx, req.ID, models.ChangeStatusRejected, adminID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRequestState
		}
		notificationRepo := repo.NewNotificationRepo(tx)
		if err := notificationRepo.MarkAdminProcessed(ctx, models.AdminRefAccountChange, req.ID, now); err != nil {
			return err
		}
		return notificationRepo.CreateUserNotification(ctx, &models.UserNotification{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			Title:     "账号变更申请未通过",
			Content:   fmt.Sprintf("你的%s变更申请未通过审核。%s", vars["changeType"], reason),
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("驳回账号变更申请",
		zap.String("requestId", req.ID),
		zap.String("adminId", adminID))
	s.notifier.NotifyEmail(ctx, req.CurrentValue, "account_change.rejected", vars)
	return nil
}

// ListPending 管理员分页查看待审核申请
func (s *AccountChangeService) ListPending(ctx context.Context, page, pageSize int) ([]models.AccountChangeRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.changeRepo.ListByStatus(ctx, models.ChangeStatusPending, page, pageSize)
}

// ListMine 用户查看自己的申请
func (s *AccountChangeService) ListMine(ctx context.Context, userID string) ([]models.AccountChangeRequest, error) {
	return s.changeRepo.ListByUser(ctx, userID)
}

// Notifications 用户站内通知，最新在前
func (s *AccountChangeService) Notifications(ctx context.Context, userID string, limit int) ([]models.UserNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return repo.NewNotificationRepo(s.db).ListUserNotifications(ctx, userID, limit)
}

func (s *AccountChangeService) findPending(ctx context.Context, requestID string) (*models.AccountChangeRequest, error) {
	req, err := s.changeRepo.FindByID(ctx, requestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.Status != models.ChangeStatusPending {
		return nil, ErrRequestState
	}
	return req, nil
}

// changeTarget 变更类型对应的用户列与验证码渠道
func changeTarget(changeType string) (column, channel string, ok bool) {
	switch changeType {
	case models.ChangeTypeEmail:
		return "email", models.ChannelEmail, true
	case models.ChangeTypePhone:
		return "phone", models.ChannelPhone, true
	}
	return "", "", false
}

func currentIdentifier(user *models.User, changeType string) string {
	if changeType == models.ChangeTypeEmail {
		return models.StringValue(user.Email)
	}
	return models.StringValue(user.Phone)
}

func changeVars(req *models.AccountChangeRequest) map[string]string {
	return map[string]string{
		"requestId":    req.ID,
		"userId":       req.UserID,
		"changeType":   changeTypeNames[req.ChangeType],
		"currentValue": req.CurrentValue,
		"newValue":     req.NewValue,
	}
}
