package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/go-orz/orz"
	"github.com/xuhao2004/kimochi/internal/models"
	"gorm.io/gorm"
)

// ErrDuplicate 存储层唯一约束冲突
var ErrDuplicate = errors.New("duplicate key")

type UserRepo struct {
	orz.Repository[models.User, string]
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{
		Repository: orz.NewRepository[models.User, string](db),
		db:         db,
	}
}

// Create 创建用户
func (r *UserRepo) Create(ctx context.Context, user *models.User) error {
	return TranslateError(r.db.WithContext(ctx).Create(user).Error)
}

// FindByID 根据ID查找用户
func (r *UserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByEmail 根据登录邮箱查找用户
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

// FindByWeappOpenID 根据小程序 openid 查找用户
func (r *UserRepo) FindByWeappOpenID(ctx context.Context, openID string) (*models.User, error) {
	return r.findOne(ctx, "weapp_open_id = ?", openID)
}

// FindByOIDCSubject 根据 OIDC subject 查找用户
func (r *UserRepo) FindByOIDCSubject(ctx context.Context, subject string) (*models.User, error) {
	return r.findOne(ctx, "oidc_subject = ?", subject)
}

// FindOtherOwner 查找除 userID 外持有任一列值的用户，未找到返回 nil
func (r *UserRepo) FindOtherOwner(ctx context.Context, userID string, columnValues map[string]string) (*models.User, error) {
	query := r.db.WithContext(ctx).Model(&models.User{}).Where("id <> ?", userID)

	var conds []string
	var args []interface{}
	for column, value := range columnValues {
		if value == "" {
			continue
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	var user models.User
	err := query.Where("("+strings.Join(conds, " OR ")+")", args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateFields 更新指定字段
func (r *UserRepo) UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(fields)
	if result.Error != nil {
		return TranslateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearIdentity 清除身份字段，仅当 remaining 中至少一列非空时生效
//
// 返回 false 表示清除后将不剩任何登录方式，或用户不存在。
func (r *UserRepo) ClearIdentity(ctx context.Context, userID string, fields map[string]interface{}, remaining []string) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID)
	if len(remaining) > 0 {
		conds := make([]string, 0, len(remaining))
		for _, column := range remaining {
			conds = append(conds, "("+column+" IS NOT NULL AND "+column+" <> '')")
		}
		query = query.Where("(" + strings.Join(conds, " OR ") + ")")
	}
	result := query.Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdatePassword 更新密码并递增 Token 版本
func (r *UserRepo) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	return r.UpdateFields(ctx, userID, map[string]interface{}{
		"password_hash": passwordHash,
		"token_version": gorm.Expr("token_version + 1"),
	})
}

// IncrementTokenVersion 递增 Token 版本，令该用户全部已签发 Token 失效
func (r *UserRepo) IncrementTokenVersion(ctx context.Context, userID string) error {
	return r.UpdateFields(ctx, userID, map[string]interface{}{
		"token_version": gorm.Expr("token_version + 1"),
	})
}

func (r *UserRepo) findOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where(query, args...).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// TranslateError 将各驱动的唯一约束错误统一为 ErrDuplicate
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key") {
		return ErrDuplicate
	}
	return err
}
