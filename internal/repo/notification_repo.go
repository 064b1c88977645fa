package repo

import (
	"context"

	"github.com/xuhao2004/kimochi/internal/models"
	"gorm.io/gorm"
)

type NotificationRepo struct {
	db *gorm.DB
}

func NewNotificationRepo(db *gorm.DB) *NotificationRepo {
	return &NotificationRepo{
		db: db,
	}
}

// CreateUserNotification 创建站内通知
func (r *NotificationRepo) CreateUserNotification(ctx context.Context, n *models.UserNotification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// ListUserNotifications 列出用户通知
func (r *NotificationRepo) ListUserNotifications(ctx context.Context, userID string, limit int) ([]models.UserNotification, error) {
	var list []models.UserNotification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// CreateAdminNotification 创建管理员待办
func (r *NotificationRepo) CreateAdminNotification(ctx context.Context, n *models.AdminNotification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// MarkAdminProcessed 将关联的管理员待办标记为已处理
func (r *NotificationRepo) MarkAdminProcessed(ctx context.Context, refType, refID string, now int64) error {
	return r.db.WithContext(ctx).
		Model(&models.AdminNotification{}).
		Where("ref_type = ? AND ref_id = ? AND processed = ?", refType, refID, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		}).Error
}

// FindAdminNotification 查找关联的管理员待办
func (r *NotificationRepo) FindAdminNotification(ctx context.Context, refType, refID string) (*models.AdminNotification, error) {
	var n models.AdminNotification
	err := r.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", refType, refID).
		Order("created_at DESC").
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}
