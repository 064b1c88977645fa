package models

import "gorm.io/datatypes"

// 扫码会话流程
const (
	QRFlowLogin = "login"
	QRFlowBind  = "bind"
)

// 扫码会话状态
const (
	QRStatusPending   = "pending"
	QRStatusConfirmed = "confirmed"
	QRStatusConsumed  = "consumed"
)

// QRLoginSession 跨设备扫码会话
type QRLoginSession struct {
	Nonce       string         `gorm:"primaryKey;size:32" json:"nonce"`      // 随机 nonce（32 位十六进制）
	Flow        string         `gorm:"size:16;not null" json:"flow"`         // login | bind
	Status      string         `gorm:"size:16;not null;index" json:"status"` // pending | confirmed | consumed
	UserID      string         `gorm:"size:64" json:"userId,omitempty"`      // 登录: 确认方用户; 绑定: 发起方用户
	Payload     datatypes.JSON `json:"payload,omitempty"`                    // 绑定流程携带的外部身份
	ExpiresAt   int64          `gorm:"not null;index" json:"expiresAt"`      // 过期时间（时间戳毫秒）
	ConfirmedAt int64          `json:"confirmedAt,omitempty"`                // 确认时间
	ConsumedAt  int64          `json:"consumedAt,omitempty"`                 // 完成时间
	CreatedAt   int64          `json:"createdAt"`                            // 创建时间（时间戳毫秒）
}

func (QRLoginSession) TableName() string {
	return "qr_login_sessions"
}

// ExternalIdentity 小程序侧证明的外部身份
type ExternalIdentity struct {
	OpenID  string `json:"openId"`
	UnionID string `json:"unionId,omitempty"`
}
