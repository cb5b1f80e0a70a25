package services

import (
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// TenantDraft 新建租户参数
type TenantDraft struct {
	Kind         models.TenantKind `json:"kind" binding:"required"`
	Name         string            `json:"name" binding:"required"`
	OwnerIDs     []string          `json:"owner_ids"`
	FeatureFlags map[string]bool   `json:"feature_flags"`
}

// TenantPatch 编辑租户参数，nil 表示不修改
type TenantPatch struct {
	Name         *string         `json:"name"`
	OwnerIDs     []string        `json:"owner_ids"`
	FeatureFlags map[string]bool `json:"feature_flags"`
	Version      int64           `json:"version" binding:"required"`
}

// CreateTenantResult 新建结果，SkippedOwnerIDs 为已被同名租户占用而跳过的归属大学
type CreateTenantResult struct {
	Tenant          *models.Tenant `json:"tenant"`
	SkippedOwnerIDs []string       `json:"skipped_owner_ids,omitempty"`
}

// ========== 租户类型策略 ==========

// TenantPolicy 单个租户类型的约束
type TenantPolicy struct {
	Kind      models.TenantKind
	MinOwners int
	MaxOwners int // <0 表示不限
}

var tenantPolicies = map[models.TenantKind]TenantPolicy{
	models.TenantKindUniversity: {Kind: models.TenantKindUniversity, MinOwners: 0, MaxOwners: 0},
	models.TenantKindHostel:     {Kind: models.TenantKindHostel, MinOwners: 1, MaxOwners: -1},
	models.TenantKindClub:       {Kind: models.TenantKindClub, MinOwners: 1, MaxOwners: 1},
}

// PolicyFor 获取租户类型策略
func PolicyFor(kind models.TenantKind) (TenantPolicy, bool) {
	p, ok := tenantPolicies[kind]
	return p, ok
}

// CheckOwnerCount 校验归属大学数量
func (p TenantPolicy) CheckOwnerCount(n int) error {
	if n < p.MinOwners {
		return apperrors.InvalidInput(fmt.Sprintf("%s 至少需要 %d 个归属大学", p.Kind, p.MinOwners))
	}
	if p.MaxOwners >= 0 && n > p.MaxOwners {
		if p.MaxOwners == 0 {
			return apperrors.InvalidInput(fmt.Sprintf("%s 不能设置归属大学", p.Kind))
		}
		return apperrors.InvalidInput(fmt.Sprintf("%s 最多只能有 %d 个归属大学", p.Kind, p.MaxOwners))
	}
	return nil
}

// ValidateName 名称长度按字符计算
func ValidateName(name string) bool {
	runeCount := utf8.RuneCountInString(name)
	return runeCount >= 2 && runeCount <= 50
}

// ========== 租户注册表 ==========

// TenantRegistry 租户层级与管理员引用
type TenantRegistry struct {
	store   TenantStore
	catalog *PermissionCatalog
	log     *logrus.Logger
}

func NewTenantRegistry(store TenantStore, catalog *PermissionCatalog, log *logrus.Logger) *TenantRegistry {
	return &TenantRegistry{
		store:   store,
		catalog: catalog,
		log:     log,
	}
}

// Get 获取租户
func (r *TenantRegistry) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.InvalidInput("租户ID不能为空")
	}
	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, "读取租户失败")
	}
	return tenant, nil
}

// ListChildren 列出归属于指定大学的宿舍和社团
func (r *TenantRegistry) ListChildren(ctx context.Context, parentID string) ([]*models.Tenant, error) {
	parent, err := r.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Kind != models.TenantKindUniversity {
		return []*models.Tenant{}, nil
	}
	children, err := r.store.ListTenantsByOwner(ctx, parentID)
	if err != nil {
		return nil, storeError(err, "读取子租户失败")
	}
	return children, nil
}

// List 分页查询
func (r *TenantRegistry) List(ctx context.Context, kind models.TenantKind, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	if kind != "" && !kind.Valid() {
		return nil, 0, apperrors.InvalidInput("无效的租户类型")
	}
	tenants, total, err := r.store.ListTenants(ctx, kind, keyword, page, pageSize)
	if err != nil {
		return nil, 0, storeError(err, "查询租户失败")
	}
	return tenants, total, nil
}

// Create 新建租户
// 同类型同名租户已占用全部归属大学时冲突；部分重叠时仅对未占用的大学创建
func (r *TenantRegistry) Create(ctx context.Context, op OperatorContext, draft TenantDraft) (*CreateTenantResult, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	owners := dedupe(draft.OwnerIDs)

	if err := r.validate(ctx, draft.Kind, draft.Name, owners, draft.FeatureFlags); err != nil {
		return nil, err
	}
	if !op.IsSuperOperator {
		if draft.Kind == models.TenantKindUniversity {
			return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "只有超级运营可以创建大学")
		}
		candidate := &models.Tenant{OwnerIDs: owners}
		if !op.CanManage(candidate) {
			return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权在该大学下创建租户")
		}
	}

	result := &CreateTenantResult{}
	if draft.Kind == models.TenantKindUniversity {
		exists, err := r.store.ExistsByKindAndName(ctx, draft.Kind, draft.Name)
		if err != nil {
			return nil, storeError(err, "检查租户名称失败")
		}
		if exists {
			return nil, apperrors.Conflict(apperrors.ReasonDuplicateTenant, "同名大学已存在")
		}
	} else {
		claimed, err := r.store.FindOwnerClaims(ctx, draft.Kind, draft.Name, owners, "")
		if err != nil {
			return nil, storeError(err, "检查租户名称失败")
		}
		claimedSet := make(map[string]struct{}, len(claimed))
		for _, id := range claimed {
			claimedSet[id] = struct{}{}
		}
		remaining := make([]string, 0, len(owners))
		for _, id := range owners {
			if _, ok := claimedSet[id]; ok {
				result.SkippedOwnerIDs = append(result.SkippedOwnerIDs, id)
				continue
			}
			remaining = append(remaining, id)
		}
		if len(remaining) == 0 {
			return nil, apperrors.Conflict(apperrors.ReasonDuplicateTenant, "所选大学下已存在同名租户")
		}
		owners = remaining
	}

	tenant := &models.Tenant{
		Kind:         draft.Kind,
		Name:         draft.Name,
		OwnerIDs:     owners,
		FeatureFlags: datatypes.NewJSONType(copyFlags(draft.FeatureFlags)),
		Active:       true,
		Version:      1,
	}
	if err := r.store.CreateTenant(ctx, tenant); err != nil {
		return nil, storeError(err, "创建租户失败")
	}
	result.Tenant = tenant

	r.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"kind":      tenant.Kind,
		"operator":  op.OperatorID,
		"skipped":   result.SkippedOwnerIDs,
	}).Info("租户已创建")
	return result, nil
}

// Update 编辑租户，写入以版本号为条件
func (r *TenantRegistry) Update(ctx context.Context, op OperatorContext, tenantID string, patch TenantPatch) (*models.Tenant, error) {
	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonStaleForm, "租户已被删除，请刷新后重试")
		}
		return nil, storeError(err, "读取租户失败")
	}
	if !op.CanManage(tenant) {
		return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权编辑该租户")
	}
	if patch.Version != tenant.Version {
		return nil, apperrors.Conflict(apperrors.ReasonVersionMismatch, "租户已被他人修改，请刷新后重试")
	}

	name := tenant.Name
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
	}
	owners := tenant.OwnerIDs
	if patch.OwnerIDs != nil {
		owners = dedupe(patch.OwnerIDs)
	}
	flags := tenant.Features()
	if patch.FeatureFlags != nil {
		flags = patch.FeatureFlags
	}
	if err := r.validate(ctx, tenant.Kind, name, owners, flags); err != nil {
		return nil, err
	}

	if tenant.Kind == models.TenantKindUniversity {
		if name != tenant.Name {
			exists, err := r.store.ExistsByKindAndName(ctx, tenant.Kind, name)
			if err != nil {
				return nil, storeError(err, "检查租户名称失败")
			}
			if exists {
				return nil, apperrors.Conflict(apperrors.ReasonDuplicateTenant, "同名大学已存在")
			}
		}
	} else if name != tenant.Name || !sameOwners(owners, tenant.OwnerIDs) {
		claimed, err := r.store.FindOwnerClaims(ctx, tenant.Kind, name, owners, tenant.ID)
		if err != nil {
			return nil, storeError(err, "检查租户名称失败")
		}
		if len(claimed) > 0 {
			return nil, apperrors.Conflict(apperrors.ReasonDuplicateTenant, "所选大学下已存在同名租户")
		}
	}

	tenant.Name = name
	tenant.OwnerIDs = owners
	tenant.FeatureFlags = datatypes.NewJSONType(copyFlags(flags))
	if err := r.store.UpdateTenant(ctx, tenant); err != nil {
		return nil, storeError(err, "更新租户失败")
	}
	return tenant, nil
}

// SetAdminRef 设置或清除管理员引用，已有其他管理员或挂起管理员时冲突
// 开通与启停流程使用 CompareAndSetAdminRef，本方法供运维修复单个引用
func (r *TenantRegistry) SetAdminRef(ctx context.Context, tenantID string, adminID *string) error {
	tenant, err := r.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if adminID != nil && tenant.HasAdmin() {
		if *tenant.AdminRef == *adminID {
			return nil
		}
		return apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "该租户已有管理员")
	}
	if adminID != nil && tenant.SuspendedAdminRef != nil && *tenant.SuspendedAdminRef != *adminID {
		return apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "该租户有被挂起的管理员")
	}
	return r.CompareAndSetAdminRef(ctx, tenantID, tenant.AdminRef, adminID)
}

// CompareAndSetAdminRef 管理员引用的原子比较写入
func (r *TenantRegistry) CompareAndSetAdminRef(ctx context.Context, tenantID string, expected, next *string) error {
	if err := r.store.CompareAndSetAdminRef(ctx, tenantID, expected, next); err != nil {
		return storeError(err, "更新租户管理员失败")
	}
	return nil
}

// SetActive 只改租户自身状态，不联动管理员身份
// 关联或挂起了管理员的租户必须走 LifecycleCascadeService
func (r *TenantRegistry) SetActive(ctx context.Context, tenantID string, active bool, reason string) (*models.Tenant, error) {
	tenant, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.HasAdmin() || tenant.SuspendedAdminRef != nil {
		return nil, apperrors.Conflict(apperrors.ReasonTenantHasAdmin, "该租户有管理员，请使用启停联动")
	}
	tenant.Active = active
	if active {
		tenant.DisabledReason = nil
	} else {
		tenant.DisabledReason = &reason
	}
	if err := r.store.UpdateTenant(ctx, tenant); err != nil {
		return nil, storeError(err, "更新租户状态失败")
	}
	return tenant, nil
}

// Delete 删除租户，仍有管理员或子租户时拒绝
func (r *TenantRegistry) Delete(ctx context.Context, op OperatorContext, tenantID string) error {
	tenant, err := r.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !op.CanManage(tenant) {
		return apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权删除该租户")
	}
	if tenant.HasAdmin() || tenant.SuspendedAdminRef != nil {
		return apperrors.Conflict(apperrors.ReasonTenantHasAdmin, "请先移除该租户的管理员")
	}
	if tenant.Kind == models.TenantKindUniversity {
		children, err := r.store.ListTenantsByOwner(ctx, tenantID)
		if err != nil {
			return storeError(err, "读取子租户失败")
		}
		if len(children) > 0 {
			return apperrors.Conflict(apperrors.ReasonTenantHasChildren, "请先删除该大学下的宿舍和社团")
		}
	}
	if err := r.store.DeleteTenant(ctx, tenantID); err != nil {
		return storeError(err, "删除租户失败")
	}
	r.log.WithFields(logrus.Fields{"tenant_id": tenantID, "operator": op.OperatorID}).Info("租户已删除")
	return nil
}

// ========== 验证相关方法 ==========

func (r *TenantRegistry) validate(ctx context.Context, kind models.TenantKind, name string, owners []string, flags map[string]bool) error {
	policy, ok := PolicyFor(kind)
	if !ok {
		return apperrors.InvalidInput("无效的租户类型")
	}
	if !ValidateName(name) {
		return apperrors.InvalidInput("租户名称长度必须在2-50个字符之间")
	}
	if err := policy.CheckOwnerCount(len(owners)); err != nil {
		return err
	}

	vocabulary := make(map[string]struct{})
	for _, key := range r.catalog.FeatureVocabulary(kind) {
		vocabulary[key] = struct{}{}
	}
	for key := range flags {
		if _, ok := vocabulary[key]; !ok {
			return apperrors.InvalidInput(fmt.Sprintf("%s 不支持功能开关 %s", kind, key))
		}
	}

	for _, ownerID := range owners {
		owner, err := r.store.GetTenant(ctx, ownerID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return apperrors.InvalidInput(fmt.Sprintf("归属大学 %s 不存在", ownerID))
			}
			return storeError(err, "读取归属大学失败")
		}
		if owner.Kind != models.TenantKindUniversity {
			return apperrors.InvalidInput(fmt.Sprintf("%s 不是大学", owner.Name))
		}
	}
	return nil
}

// storeError 文档存储返回的非业务错误统一视为外部调用失败
func storeError(err error, message string) error {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		return apperrors.External(message, err)
	}
	return err
}

// sameOwners 忽略顺序比较归属大学
func sameOwners(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func copyFlags(flags map[string]bool) map[string]bool {
	out := make(map[string]bool, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}
