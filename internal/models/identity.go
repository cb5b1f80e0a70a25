package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Identity 登录身份
type Identity struct {
	BaseModel
	Email            string     `json:"email" gorm:"size:100;not null;uniqueIndex"`
	SecretHash       string     `json:"-" gorm:"size:255;not null"`
	MustRotateSecret bool       `json:"must_rotate_secret" gorm:"not null"`
	Locked           bool       `json:"locked" gorm:"not null"`
	IsSuperOperator  bool       `json:"is_super_operator" gorm:"not null"`
	LastLoginAt      *time.Time `json:"last_login_at"`
}

// TableName 表名
func (i *Identity) TableName() string {
	return "identities"
}

// SetSecret 设置密码
func (i *Identity) SetSecret(secret string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	i.SecretHash = string(hashed)
	return nil
}

// CheckSecret 验证密码
func (i *Identity) CheckSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(i.SecretHash), []byte(secret)) == nil
}
