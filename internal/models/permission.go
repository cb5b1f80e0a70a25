package models

// Capability 管理后台菜单权限
type Capability struct {
	Key  string `json:"key"`  // 权限代码，如 "diningmenu"
	Name string `json:"name"` // 菜单名称，如 "餐单管理"
}

// FeatureMapping 租户功能开关到菜单权限的映射
type FeatureMapping struct {
	FeatureKey    string       `json:"feature_key"`
	CapabilityKey string       `json:"capability_key,omitempty"` // 为空表示该功能不对应菜单
	Kinds         []TenantKind `json:"kinds"`                    // 适用的租户类型
}

// 基础菜单权限
const (
	CapabilityDashboard = "dashboard"
	CapabilitySettings  = "settings"
	CapabilityContact   = "contact"
)
