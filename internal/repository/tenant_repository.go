package repository

import (
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"campusadmin/pkg/pagination"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TenantRepository 租户存储（PostgreSQL）
type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetTenant 根据ID获取租户及归属大学
func (r *TenantRepository) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
		}
		return nil, err
	}
	if err := r.attachOwners(ctx, []*models.Tenant{&tenant}); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ListTenantsByOwner 归属于指定大学的租户
func (r *TenantRepository) ListTenantsByOwner(ctx context.Context, ownerID string) ([]*models.Tenant, error) {
	var tenants []*models.Tenant
	sub := r.db.Model(&models.TenantOwner{}).Select("tenant_id").Where("owner_id = ?", ownerID)
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("name ASC").
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	if err := r.attachOwners(ctx, tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// ListTenants 组合查询（分页版本）
func (r *TenantRepository) ListTenants(ctx context.Context, kind models.TenantKind, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	var tenants []*models.Tenant
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Tenant{})

	// 添加过滤条件
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if keyword != "" {
		query = query.Where("name LIKE ?", fmt.Sprintf("%%%s%%", keyword))
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	params := pagination.Normalize(page, pageSize)
	if err := query.Scopes(params.Scope()).Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, 0, err
	}
	if err := r.attachOwners(ctx, tenants); err != nil {
		return nil, 0, err
	}
	return tenants, total, nil
}

// FindOwnerClaims 同类型同名租户已占用的归属大学，excludeID 非空时跳过该租户自身
func (r *TenantRepository) FindOwnerClaims(ctx context.Context, kind models.TenantKind, name string, ownerIDs []string, excludeID string) ([]string, error) {
	claimed := []string{}
	if len(ownerIDs) == 0 {
		return claimed, nil
	}
	query := r.db.WithContext(ctx).
		Model(&models.TenantOwner{}).
		Joins("JOIN tenants ON tenants.id = tenant_owners.tenant_id").
		Where("tenants.kind = ? AND tenants.name = ? AND tenant_owners.owner_id IN ?", kind, name, ownerIDs)
	if excludeID != "" {
		query = query.Where("tenants.id <> ?", excludeID)
	}
	err := query.Distinct().Pluck("tenant_owners.owner_id", &claimed).Error
	return claimed, err
}

// ExistsByKindAndName 同类型同名租户是否存在
func (r *TenantRepository) ExistsByKindAndName(ctx context.Context, kind models.TenantKind, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("kind = ? AND name = ?", kind, name).
		Count(&count).Error
	return count > 0, err
}

// CreateTenant 创建租户与归属关系
func (r *TenantRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return err
		}
		return replaceOwners(tx, tenant.ID, tenant.OwnerIDs)
	})
}

// UpdateTenant 以版本号为条件更新，不修改管理员引用
func (r *TenantRepository) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Tenant{}).
			Where("id = ? AND version = ?", tenant.ID, tenant.Version).
			Updates(map[string]interface{}{
				"name":                tenant.Name,
				"feature_flags":       tenant.FeatureFlags,
				"active":              tenant.Active,
				"disabled_reason":     tenant.DisabledReason,
				"suspended_admin_ref": tenant.SuspendedAdminRef,
				"version":             gorm.Expr("version + 1"),
				"updated_at":          time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return r.missingOrStale(tx, tenant.ID)
		}
		return replaceOwners(tx, tenant.ID, tenant.OwnerIDs)
	})
	if err != nil {
		return err
	}
	tenant.Version++
	return nil
}

// CompareAndSetAdminRef 条件更新管理员引用
func (r *TenantRepository) CompareAndSetAdminRef(ctx context.Context, tenantID string, expected, next *string) error {
	query := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID)
	if expected == nil {
		query = query.Where("admin_ref IS NULL")
	} else {
		query = query.Where("admin_ref = ?", *expected)
	}

	result := query.Updates(map[string]interface{}{
		"admin_ref":  next,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
		}
		return apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "租户管理员已变更")
	}
	return nil
}

// DeleteTenant 删除租户及归属关系
func (r *TenantRepository) DeleteTenant(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&models.TenantOwner{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Tenant{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
		}
		return nil
	})
}

// ListTenantsWithAdmin 已分配管理员的租户
func (r *TenantRepository) ListTenantsWithAdmin(ctx context.Context) ([]*models.Tenant, error) {
	var tenants []*models.Tenant
	err := r.db.WithContext(ctx).
		Where("admin_ref IS NOT NULL AND admin_ref <> ''").
		Find(&tenants).Error
	return tenants, err
}

// ========== 内部方法 ==========

func (r *TenantRepository) missingOrStale(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&models.Tenant{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
	}
	return apperrors.Conflict(apperrors.ReasonVersionMismatch, "租户已被他人修改，请刷新后重试")
}

func (r *TenantRepository) attachOwners(ctx context.Context, tenants []*models.Tenant) error {
	if len(tenants) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tenants))
	byID := make(map[string]*models.Tenant, len(tenants))
	for _, t := range tenants {
		ids = append(ids, t.ID)
		byID[t.ID] = t
		t.OwnerIDs = []string{}
	}

	var owners []models.TenantOwner
	if err := r.db.WithContext(ctx).Where("tenant_id IN ?", ids).Order("id ASC").Find(&owners).Error; err != nil {
		return err
	}
	for _, o := range owners {
		if t, ok := byID[o.TenantID]; ok {
			t.OwnerIDs = append(t.OwnerIDs, o.OwnerID)
		}
	}
	return nil
}

func replaceOwners(tx *gorm.DB, tenantID string, ownerIDs []string) error {
	if err := tx.Where("tenant_id = ?", tenantID).Delete(&models.TenantOwner{}).Error; err != nil {
		return err
	}
	if len(ownerIDs) == 0 {
		return nil
	}
	rows := make([]models.TenantOwner, 0, len(ownerIDs))
	for _, ownerID := range ownerIDs {
		rows = append(rows, models.TenantOwner{TenantID: tenantID, OwnerID: ownerID})
	}
	return tx.Create(&rows).Error
}
