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

// AdministratorRepository 管理员存储
type AdministratorRepository struct {
	db *gorm.DB
}

func NewAdministratorRepository(db *gorm.DB) *AdministratorRepository {
	return &AdministratorRepository{db: db}
}

// GetAdministrator 根据ID获取管理员
func (r *AdministratorRepository) GetAdministrator(ctx context.Context, id string) (*models.Administrator, error) {
	var admin models.Administrator
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&admin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
		}
		return nil, err
	}
	return &admin, nil
}

// FindAdministratorByEmail 根据邮箱查找
func (r *AdministratorRepository) FindAdministratorByEmail(ctx context.Context, email string) (*models.Administrator, error) {
	var admin models.Administrator
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&admin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
		}
		return nil, err
	}
	return &admin, nil
}

// ListAdministrators 分页查询
func (r *AdministratorRepository) ListAdministrators(ctx context.Context, tenantID, keyword string, page, pageSize int) ([]*models.Administrator, int64, error) {
	var admins []*models.Administrator
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Administrator{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if keyword != "" {
		searchPattern := fmt.Sprintf("%%%s%%", keyword)
		query = query.Where("name LIKE ? OR email LIKE ?", searchPattern, searchPattern)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	params := pagination.Normalize(page, pageSize)
	err := query.Scopes(params.Scope()).Order("created_at DESC").Find(&admins).Error
	if err != nil {
		return nil, 0, err
	}
	return admins, total, nil
}

// CreateAdministrator 创建管理员，邮箱重复视为冲突
func (r *AdministratorRepository) CreateAdministrator(ctx context.Context, admin *models.Administrator) error {
	err := r.db.WithContext(ctx).Create(admin).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Conflict(apperrors.ReasonEmailTaken, "该邮箱已被使用")
	}
	return err
}

// UpdateAdministrator 以版本号为条件更新
func (r *AdministratorRepository) UpdateAdministrator(ctx context.Context, admin *models.Administrator) error {
	result := r.db.WithContext(ctx).Model(&models.Administrator{}).
		Where("id = ? AND version = ?", admin.ID, admin.Version).
		Updates(map[string]interface{}{
			"name":              admin.Name,
			"tenant_id":         admin.TenantID,
			"tenant_kind":       admin.TenantKind,
			"tenant_name":       admin.TenantName,
			"permissions":       admin.Permissions,
			"status":            admin.Status,
			"profile_image_ref": admin.ProfileImageRef,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Administrator{}).Where("id = ?", admin.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
		}
		return apperrors.Conflict(apperrors.ReasonVersionMismatch, "管理员已被他人修改，请刷新后重试")
	}
	admin.Version++
	return nil
}

// DeleteAdministrator 删除管理员
func (r *AdministratorRepository) DeleteAdministrator(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Administrator{}).Error
}

// ListAdministratorIDs 全部管理员ID
func (r *AdministratorRepository) ListAdministratorIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Administrator{}).Pluck("id", &ids).Error
	return ids, err
}
