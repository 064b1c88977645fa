package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/xuhao2004/kimochi/internal/models"
	"gorm.io/gorm"
)

type VerificationCodeRepo struct {
	orz.Repository[models.VerificationCode, string]
	db *gorm.DB
}

func NewVerificationCodeRepo(db *gorm.DB) *VerificationCodeRepo {
	return &VerificationCodeRepo{
		Repository: orz.NewRepository[models.VerificationCode, string](db),
		db:         db,
	}
}

// Create 创建验证码记录
func (r *VerificationCodeRepo) Create(ctx context.Context, code *models.VerificationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

// SupersedeOutstanding 作废同一联系方式同一用途下所有未使用且未过期的验证码
func (r *VerificationCodeRepo) SupersedeOutstanding(ctx context.Context, contact, purpose string, now int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerificationCode{}).
		Where("contact = ? AND purpose = ? AND consumed_at = 0 AND expires_at > ?", contact, purpose, now).
		Updates(map[string]interface{}{
			"consumed_at": now,
			"superseded":  true,
		})
	return result.RowsAffected, result.Error
}

// FindLatestActive 查找最近一条未使用且未过期的验证码
func (r *VerificationCodeRepo) FindLatestActive(ctx context.Context, contact, purpose string, now int64) (*models.VerificationCode, error) {
	var code models.VerificationCode
	err := r.db.WithContext(ctx).
		Where("contact = ? AND purpose = ? AND consumed_at = 0 AND expires_at > ?", contact, purpose, now).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// MarkConsumed 条件更新：仅当仍未使用且未过期时标记为已使用，返回是否更新成功
func (r *VerificationCodeRepo) MarkConsumed(ctx context.Context, id string, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VerificationCode{}).
		Where("id = ? AND consumed_at = 0 AND expires_at > ?", id, now).
		Update("consumed_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
