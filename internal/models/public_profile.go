package models

// PublicProfile 管理员公开资料（只读副本，供前台展示）
type PublicProfile struct {
	AdministratorID string     `json:"administrator_id"`
	Name            string     `json:"name"`
	TenantID        string     `json:"tenant_id"`
	TenantKind      TenantKind `json:"tenant_kind"`
	TenantName      string     `json:"tenant_name"`
	AvatarRef       string     `json:"avatar_ref,omitempty"` // 头像对象键
	AvatarURL       string     `json:"avatar_url,omitempty"` // 仅在有公开前缀时写入`
}
