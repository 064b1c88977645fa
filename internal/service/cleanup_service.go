package service

import (
	"context"
	"time"

	"github.com/xuhao2004/kimochi/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CleanupService 清理过期扫码会话；验证码记录保留用于审计
type CleanupService struct {
	logger    *zap.Logger
	qrRepo    *repo.QRLoginRepo
	retention time.Duration
	now       func() time.Time
}

func NewCleanupService(logger *zap.Logger, db *gorm.DB, retention time.Duration) *CleanupService {
	return &CleanupService{
		logger:    logger,
		qrRepo:    repo.NewQRLoginRepo(db),
		retention: retention,
		now:       time.Now,
	}
}

// Sweep 删除过期超过保留时长的扫码会话
func (s *CleanupService) Sweep(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.retention).UnixMilli()
	deleted, err := s.qrRepo.DeleteExpiredBefore(ctx, before)
	if err != nil {
		s.logger.Error("清理扫码会话失败", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("清理过期扫码会话", zap.Int64("count", deleted))
	}
	return deleted, nil
}
