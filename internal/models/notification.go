package models

// UserNotification 站内通知
type UserNotification struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;size:64;not null" json:"userId"`
	Title     string `json:"title"`
	Content   string `gorm:"type:text" json:"content"`
	Read      bool   `gorm:"default:false" json:"read"`
	CreatedAt int64  `json:"createdAt"`
}

func (UserNotification) TableName() string {
	return "user_notifications"
}

// 管理员待办类型
const (
	AdminRefAccountChange = "account_change"
)

// AdminNotification 管理员待办
type AdminNotification struct {
	ID          string `gorm:"primaryKey" json:"id"`
	RefType     string `gorm:"index:idx_admin_ref;size:32;not null" json:"refType"`
	RefID       string `gorm:"index:idx_admin_ref;size:64;not null" json:"refId"`
	Message     string `json:"message"`
	Processed   bool   `gorm:"default:false;index" json:"processed"`
	ProcessedAt int64  `json:"processedAt,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

func (AdminNotification) TableName() string {
	return "admin_notifications"
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&VerificationCode{},
		&QRLoginSession{},
		&AccountChangeRequest{},
		&UserNotification{},
		&AdminNotification{},
	}
}
