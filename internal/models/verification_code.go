package models

// 验证码发送渠道
const (
	ChannelEmail = "email"
	ChannelPhone = "phone"
)

// 验证码用途（封闭枚举）
const (
	PurposeRegister            = "register"
	PurposePasswordReset       = "password_reset"
	PurposeEmailUnbind         = "email_unbind"
	PurposeWeappRebind         = "weapp_rebind"
	PurposeSecurityEmail       = "security_email"
	PurposeEmailLogin          = "email_login"
	PurposeAccountChangeCancel = "account_change_cancel"
)

// ValidPurpose 判断用途是否在枚举内
func ValidPurpose(purpose string) bool {
	switch purpose {
	case PurposeRegister, PurposePasswordReset, PurposeEmailUnbind, PurposeWeappRebind,
		PurposeSecurityEmail, PurposeEmailLogin, PurposeAccountChangeCancel:
		return true
	}
	return false
}

// VerificationCode 验证码记录
//
// 只保存验证码的单向哈希；记录从不删除，过期后自然失效。
type VerificationCode struct {
	ID         string `gorm:"primaryKey" json:"id"`                                              // 记录ID (UUID)
	UserID     string `gorm:"index;size:64" json:"userId,omitempty"`                             // 关联用户ID（可选）
	Contact    string `gorm:"index:idx_code_lookup,priority:1;size:191;not null" json:"contact"` // 邮箱或手机号
	Channel    string `gorm:"size:16;not null" json:"channel"`                                   // email | phone
	Purpose    string `gorm:"index:idx_code_lookup,priority:2;size:32;not null" json:"purpose"`  // 用途
	CodeHash   string `gorm:"size:128;not null" json:"-"`                                        // HMAC 哈希
	ExpiresAt  int64  `gorm:"not null" json:"expiresAt"`                                         // 过期时间（时间戳毫秒）
	ConsumedAt int64  `gorm:"not null;default:0" json:"consumedAt,omitempty"`                    // 使用时间，0 表示未使用
	Superseded bool   `gorm:"default:false" json:"superseded"`                                   // 被新验证码作废
	CreatedAt  int64  `gorm:"index:idx_code_lookup,priority:3" json:"createdAt"`                 // 创建时间（时间戳毫秒）
}

func (VerificationCode) TableName() string {
	return "verification_codes"
}
