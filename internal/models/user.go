package models

// 注册来源
const (
	RegisteredViaEmail  = "email"
	RegisteredViaWechat = "wechat"
	RegisteredViaWeapp  = "weapp"
	RegisteredViaPhone  = "phone"
	RegisteredViaOIDC   = "oidc"
)

// User 用户信息
//
// 所有外部身份标识均为可空列并带唯一索引，唯一性的最终保证在存储层。
type User struct {
	ID            string  `gorm:"primaryKey" json:"id"`                              // 用户ID (UUID)
	Nickname      string  `json:"nickname"`                                          // 昵称
	PasswordHash  string  `json:"-"`                                                 // 密码（bcrypt，不返回给前端）
	Email         *string `gorm:"uniqueIndex;size:191" json:"email"`                 // 登录邮箱
	SecurityEmail *string `gorm:"size:191" json:"securityEmail"`                     // 安全邮箱（仅用于找回，不可登录）
	Phone         *string `gorm:"uniqueIndex;size:32" json:"phone"`                  // 手机号
	WechatOpenID  *string `gorm:"uniqueIndex;size:64" json:"-"`                      // 微信开放平台 openid
	WechatUnionID *string `gorm:"uniqueIndex;size:64" json:"-"`                      // 微信开放平台 unionid
	WechatBoundAt int64   `json:"wechatBoundAt,omitempty"`                           // 微信绑定时间（时间戳毫秒）
	WeappOpenID   *string `gorm:"uniqueIndex;size:64" json:"-"`                      // 小程序 openid
	WeappUnionID  *string `gorm:"uniqueIndex;size:64" json:"-"`                      // 小程序 unionid
	WeappBoundAt  int64   `json:"weappBoundAt,omitempty"`                            // 小程序绑定时间（时间戳毫秒）
	OIDCSubject   *string `gorm:"column:oidc_subject;uniqueIndex;size:191" json:"-"` // OIDC subject（issuer|sub）
	OIDCBoundAt   int64   `gorm:"column:oidc_bound_at" json:"oidcBoundAt,omitempty"` // OIDC 绑定时间（时间戳毫秒）
	RegisteredVia string  `gorm:"size:16" json:"registeredVia"`                      // 注册来源
	IsAdmin       bool    `gorm:"default:false" json:"isAdmin"`                      // 管理员
	IsSuperAdmin  bool    `gorm:"default:false" json:"isSuperAdmin"`                 // 超级管理员
	TokenVersion  int64   `gorm:"not null;default:0" json:"-"`                       // Token 版本，递增即令全部已签发 Token 失效
	CreatedAt     int64   `json:"createdAt"`                                         // 创建时间（时间戳毫秒）
	UpdatedAt     int64   `json:"updatedAt" gorm:"autoUpdateTime:milli"`             // 更新时间（时间戳毫秒）
}

func (User) TableName() string {
	return "users"
}

// StringValue 返回可空字段的值
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr 空字符串视为 NULL
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
