package models

import (
	"time"
)

// User is a local account. Accounts created from an external identity carry an unusable
// password and PasswordUnknown=true until the owner sets one.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	DisplayName string `json:"display_name"`
	Nickname    string `json:"nickname"`
	Avatar      string `json:"avatar"`

	PasswordUnknown bool `gorm:"default:false" json:"password_unknown"`
	IsActive        bool `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	AccountLinks []AccountLink `gorm:"foreignKey:UserID" json:"-"`
}
