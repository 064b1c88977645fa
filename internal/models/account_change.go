package models

// 变更类型
const (
	ChangeTypeEmail = "email"
	ChangeTypePhone = "phone"
)

// 变更申请状态
const (
	ChangeStatusPending   = "pending"
	ChangeStatusApproved  = "approved"
	ChangeStatusCancelled = "cancelled"
	ChangeStatusRejected  = "rejected"
)

// AccountChangeRequest 敏感标识变更申请
type AccountChangeRequest struct {
	ID           string `gorm:"primaryKey" json:"id"`                                      // 申请ID (UUID)
	UserID       string `gorm:"index:idx_change_user_type;size:64;not null" json:"userId"` // 申请人
	ChangeType   string `gorm:"index:idx_change_user_type;size:16;not null" json:"changeType"`
	CurrentValue string `gorm:"size:191" json:"currentValue"`         // 当前值
	NewValue     string `gorm:"size:191;not null" json:"newValue"`    // 申请的新值
	Status       string `gorm:"size:16;not null;index" json:"status"` // pending | approved | cancelled | rejected
	Reason       string `json:"reason,omitempty"`                     // 驳回原因
	ProcessedBy  string `gorm:"size:64" json:"processedBy,omitempty"` // 处理人
	CreatedAt    int64  `json:"createdAt"`                            // 创建时间（时间戳毫秒）
	ProcessedAt  int64  `json:"processedAt,omitempty"`                // 处理时间（时间戳毫秒）
}

func (AccountChangeRequest) TableName() string {
	return "account_change_requests"
}
