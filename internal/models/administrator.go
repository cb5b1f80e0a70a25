package models

import (
	"gorm.io/datatypes"
)

// Administrator 委派管理员（ID 与身份ID一致）
type Administrator struct {
	BaseModel
	Name            string         `json:"name" gorm:"size:100;not null"`
	Email           string         `json:"email" gorm:"size:100;not null;uniqueIndex"`
	TenantID        string         `json:"tenant_id" gorm:"size:36;not null;index"`
	TenantKind      TenantKind     `json:"tenant_kind" gorm:"size:20;not null"`
	TenantName      string         `json:"tenant_name" gorm:"size:100"`   // 创建时的租户名称快照
	Permissions     datatypes.JSON `json:"permissions" gorm:"type:jsonb"` // 历史数据可能是数组、字符串或对象
	Status          string         `json:"status" gorm:"size:20;not null;default:'active'"`
	ProfileImageRef *string        `json:"profile_image_ref,omitempty" gorm:"size:512"`
	Version         int64          `json:"version" gorm:"not null;default:1"`
}

// TableName 表名
func (a *Administrator) TableName() string {
	return "administrators"
}

// 管理员状态常量
const (
	AdministratorStatusActive   = "active"
	AdministratorStatusDisabled = "disabled"
)

// IsActive 是否为启用状态
func (a *Administrator) IsActive() bool {
	return a.Status == AdministratorStatusActive
}
