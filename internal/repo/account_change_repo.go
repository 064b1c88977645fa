package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/xuhao2004/kimochi/internal/models"
	"gorm.io/gorm"
)

type AccountChangeRepo struct {
	orz.Repository[models.AccountChangeRequest, string]
	db *gorm.DB
}

func NewAccountChangeRepo(db *gorm.DB) *AccountChangeRepo {
	return &AccountChangeRepo{
		Repository: orz.NewRepository[models.AccountChangeRequest, string](db),
		db:         db,
	}
}

// Create 创建变更申请
func (r *AccountChangeRepo) Create(ctx context.Context, req *models.AccountChangeRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// FindByID 根据ID查找
func (r *AccountChangeRepo) FindByID(ctx context.Context, id string) (*models.AccountChangeRequest, error) {
	var req models.AccountChangeRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPending 查找用户某类型的待处理申请
func (r *AccountChangeRepo) FindPending(ctx context.Context, userID, changeType string) (*models.AccountChangeRequest, error) {
	var req models.AccountChangeRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND change_type = ? AND status = ?", userID, changeType, models.ChangeStatusPending).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Transition 条件更新 pending -> status，返回是否更新成功
func (r *AccountChangeRepo) Transition(ctx context.Context, id, status, processedBy, reason string, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.AccountChangeRequest{}).
		Where("id = ? AND status = ?", id, models.ChangeStatusPending).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_by": processedBy,
			"reason":       reason,
			"processed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByUser 列出用户的变更申请
func (r *AccountChangeRepo) ListByUser(ctx context.Context, userID string) ([]models.AccountChangeRequest, error) {
	var reqs []models.AccountChangeRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&reqs).Error
	return reqs, err
}

// ListByStatus 按状态分页列出
func (r *AccountChangeRepo) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]models.AccountChangeRequest, int64, error) {
	var reqs []models.AccountChangeRequest
	var total int64

	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&models.AccountChangeRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&reqs).Error

	return reqs, total, err
}
