package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/xuhao2004/kimochi/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QRLoginRepo struct {
	orz.Repository[models.QRLoginSession, string]
	db *gorm.DB
}

func NewQRLoginRepo(db *gorm.DB) *QRLoginRepo {
	return &QRLoginRepo{
		Repository: orz.NewRepository[models.QRLoginSession, string](db),
		db:         db,
	}
}

// Create 创建会话
func (r *QRLoginRepo) Create(ctx context.Context, session *models.QRLoginSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByNonce 根据 nonce 查找会话
func (r *QRLoginRepo) FindByNonce(ctx context.Context, nonce string) (*models.QRLoginSession, error) {
	var session models.QRLoginSession
	err := r.db.WithContext(ctx).
		Where("nonce = ?", nonce).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Confirm 条件更新 pending -> confirmed，仅在未过期时生效
func (r *QRLoginRepo) Confirm(ctx context.Context, nonce, userID string, payload datatypes.JSON, now int64) (bool, error) {
	fields := map[string]interface{}{
		"status":       models.QRStatusConfirmed,
		"confirmed_at": now,
	}
	if userID != "" {
		fields["user_id"] = userID
	}
	if payload != nil {
		fields["payload"] = payload
	}
	result := r.db.WithContext(ctx).
		Model(&models.QRLoginSession{}).
		Where("nonce = ? AND status = ? AND expires_at > ?", nonce, models.QRStatusPending, now).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Consume 条件更新 confirmed -> consumed，仅在未过期时生效
func (r *QRLoginRepo) Consume(ctx context.Context, nonce string, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QRLoginSession{}).
		Where("nonce = ? AND status = ? AND expires_at > ?", nonce, models.QRStatusConfirmed, now).
		Updates(map[string]interface{}{
			"status":      models.QRStatusConsumed,
			"consumed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteExpiredBefore 删除在 before 之前已过期的会话
func (r *QRLoginRepo) DeleteExpiredBefore(ctx context.Context, before int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.QRLoginSession{})
	return result.RowsAffected, result.Error
}
