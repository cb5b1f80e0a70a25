package models

import (
	"gorm.io/datatypes"
)

// TenantKind 租户类型
type TenantKind string

const (
	TenantKindUniversity TenantKind = "university"
	TenantKindHostel     TenantKind = "hostel"
	TenantKindClub       TenantKind = "club"
)

// Valid 是否为已知租户类型
func (k TenantKind) Valid() bool {
	switch k {
	case TenantKindUniversity, TenantKindHostel, TenantKindClub:
		return true
	default:
		return false
	}
}

// Tenant 租户模型（大学、宿舍、社团共用，Kind 区分）
type Tenant struct {
	BaseModel
	Kind              TenantKind                          `json:"kind" gorm:"size:20;not null;index:idx_tenant_kind_name"`
	Name              string                              `json:"name" gorm:"size:100;not null;index:idx_tenant_kind_name"`
	OwnerIDs          []string                            `json:"owner_ids" gorm:"-"`
	FeatureFlags      datatypes.JSONType[map[string]bool] `json:"feature_flags" gorm:"type:jsonb"`
	Active            bool                                `json:"active" gorm:"not null"`
	DisabledReason    *string                             `json:"disabled_reason,omitempty" gorm:"size:255"`
	AdminRef          *string                             `json:"admin_ref,omitempty" gorm:"size:36;index"`
	SuspendedAdminRef *string                             `json:"suspended_admin_ref,omitempty" gorm:"size:36"`
	Version           int64                               `json:"version" gorm:"not null;default:1"`
}

// TableName 表名
func (t *Tenant) TableName() string {
	return "tenants"
}

// Features 已配置的功能开关（可能为 nil）
func (t *Tenant) Features() map[string]bool {
	return t.FeatureFlags.Data()
}

// HasAdmin 是否已分配管理员
func (t *Tenant) HasAdmin() bool {
	return t.AdminRef != nil && *t.AdminRef != ""
}

// TenantOwner 租户归属关系（宿舍/社团 → 大学）
type TenantOwner struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	TenantID string `gorm:"size:36;not null;uniqueIndex:idx_tenant_owner" json:"tenant_id"`
	OwnerID  string `gorm:"size:36;not null;uniqueIndex:idx_tenant_owner;index" json:"owner_id"`
}

// TableName 指定表名
func (TenantOwner) TableName() string {
	return "tenant_owners"
}

// TenantLifecycleEvent 租户启停记录
type TenantLifecycleEvent struct {
	BaseModel
	TenantID        string  `json:"tenant_id" gorm:"size:36;not null;index"`
	AdministratorID *string `json:"administrator_id,omitempty" gorm:"size:36"`
	Action          string  `json:"action" gorm:"size:20;not null"`
	Reason          string  `json:"reason" gorm:"size:255"`
	OperatorID      string  `json:"operator_id" gorm:"size:36"`
	IdentityLocked  bool    `json:"identity_locked"`
}

// TableName 指定表名
func (TenantLifecycleEvent) TableName() string {
	return "tenant_lifecycle_events"
}

// 启停动作常量
const (
	LifecycleActionDisable = "disable"
	LifecycleActionEnable  = "enable"
)
