package services

import (
	"campusadmin/internal/models"
	"context"
	"io"
)

// ========== 存储与外部依赖接口 ==========

// TenantStore 租户文档存储
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ListTenantsByOwner(ctx context.Context, ownerID string) ([]*models.Tenant, error)
	ListTenants(ctx context.Context, kind models.TenantKind, keyword string, page, pageSize int) ([]*models.Tenant, int64, error)
	// FindOwnerClaims 返回同类型同名租户已占用的归属大学ID，excludeID 对应的租户不计入
	FindOwnerClaims(ctx context.Context, kind models.TenantKind, name string, ownerIDs []string, excludeID string) ([]string, error)
	ExistsByKindAndName(ctx context.Context, kind models.TenantKind, name string) (bool, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	// UpdateTenant 按版本号条件写入，成功后版本号加一
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	// CompareAndSetAdminRef 仅当当前值等于 expected 时写入 next，否则返回 Conflict
	CompareAndSetAdminRef(ctx context.Context, tenantID string, expected, next *string) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenantsWithAdmin(ctx context.Context) ([]*models.Tenant, error)
}

// AdministratorStore 管理员文档存储
type AdministratorStore interface {
	GetAdministrator(ctx context.Context, id string) (*models.Administrator, error)
	FindAdministratorByEmail(ctx context.Context, email string) (*models.Administrator, error)
	ListAdministrators(ctx context.Context, tenantID, keyword string, page, pageSize int) ([]*models.Administrator, int64, error)
	CreateAdministrator(ctx context.Context, admin *models.Administrator) error
	UpdateAdministrator(ctx context.Context, admin *models.Administrator) error
	DeleteAdministrator(ctx context.Context, id string) error
	ListAdministratorIDs(ctx context.Context) ([]string, error)
}

// ProfileStore 管理员公开资料
type ProfileStore interface {
	PutProfile(ctx context.Context, profile *models.PublicProfile) error
	GetProfile(ctx context.Context, adminID string) (*models.PublicProfile, error)
	DeleteProfile(ctx context.Context, adminID string) error
}

// LifecycleEventStore 启停记录
type LifecycleEventStore interface {
	AppendLifecycleEvent(ctx context.Context, event *models.TenantLifecycleEvent) error
	ListLifecycleEvents(ctx context.Context, tenantID string) ([]*models.TenantLifecycleEvent, error)
}

// IdentitySession 独立身份会话，在其中创建账号不会影响当前运营人员的登录态
type IdentitySession interface {
	CreateIdentity(ctx context.Context, email, secret string) (string, error)
	DeleteIdentity(ctx context.Context, identityID string) error
	Close() error
}

// IdentityProvider 身份服务
type IdentityProvider interface {
	OpenIsolatedSession(ctx context.Context) (IdentitySession, error)
}

// IdentityDirectory 列出已开通的非超级运营身份
type IdentityDirectory interface {
	ListProvisionedIdentityIDs(ctx context.Context) ([]string, error)
}

// IdentityLocker 远程锁定/解锁身份
type IdentityLocker interface {
	DisableIdentity(ctx context.Context, identityID string) error
	EnableIdentity(ctx context.Context, identityID string) error
}

// AvatarUpload 待上传头像
type AvatarUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AvatarUploader 头像存储
// UploadAvatar 返回对象键，访问地址在读取时生成
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, adminID string, upload *AvatarUpload) (string, error)
	// AvatarURL 生成访问地址，未配置公开前缀时为限时签名地址
	AvatarURL(ctx context.Context, ref string) (string, error)
	// PublicAvatarURL 不过期的公开地址，未配置公开前缀时返回空
	PublicAvatarURL(ref string) string
}

// ========== 运营人员上下文 ==========

// OperatorContext 发起操作的运营人员
type OperatorContext struct {
	OperatorID      string
	IdentityID      string
	Email           string
	IsSuperOperator bool
	TenantScope     []string
}

// CanManage 是否可以管理指定租户
// 超级运营可管理全部；委派运营只能管理授权范围内的租户及其归属大学在范围内的子租户
func (op OperatorContext) CanManage(tenant *models.Tenant) bool {
	if op.IsSuperOperator {
		return true
	}
	if tenant == nil {
		return false
	}
	for _, scoped := range op.TenantScope {
		if scoped == tenant.ID {
			return true
		}
		for _, owner := range tenant.OwnerIDs {
			if scoped == owner {
				return true
			}
		}
	}
	return false
}
