package services

import (
	"campusadmin/internal/metrics"
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// AdminForm 管理员表单
type AdminForm struct {
	Name         string        `json:"name" form:"name" validate:"required,min=2,max=50"`
	Email        string        `json:"email" form:"email" validate:"required,email,max=100"`
	TenantID     string        `json:"tenant_id" form:"tenant_id" validate:"required"`
	Capabilities []string      `json:"capabilities" form:"capabilities"`
	Avatar       *AvatarUpload `json:"-" form:"-" validate:"-"`
}

// AdministratorView 管理员详情，附带规范化后的权限
type AdministratorView struct {
	*models.Administrator
	Capabilities CapabilitySet `json:"capabilities"`
	AvatarURL    string        `json:"avatar_url,omitempty"`
}

// ProvisionResult 开通/编辑结果
type ProvisionResult struct {
	Administrator *AdministratorView `json:"administrator"`
	InitialSecret string             `json:"initial_secret,omitempty"` // 仅新建时返回，首次登录必须修改
	Warnings      []string           `json:"warnings,omitempty"`
}

// ProvisioningDeps 开通流程依赖
type ProvisioningDeps struct {
	Tenants     *TenantRegistry
	TenantStore TenantStore
	Admins      AdministratorStore
	Profiles    ProfileStore
	Identities  IdentityProvider
	Avatars     AvatarUploader // 可为 nil
	Permissions *PermissionService
}

// AdminProvisioningService 管理员开通流程
type AdminProvisioningService struct {
	deps          ProvisioningDeps
	validate      *validator.Validate
	log           *logrus.Logger
	minSecretSize int
}

func NewAdminProvisioningService(deps ProvisioningDeps, minSecretSize int, log *logrus.Logger) *AdminProvisioningService {
	if minSecretSize < 8 {
		minSecretSize = 8
	}
	return &AdminProvisioningService{
		deps:          deps,
		validate:      validator.New(),
		log:           log,
		minSecretSize: minSecretSize,
	}
}

// InitialSecret 由姓名推导初始密码，首次登录强制修改
func InitialSecret(name string, minSize int) string {
	base := strings.ToLower(strings.Join(strings.Fields(name), ""))
	secret := base + "@campus"
	for utf8.RuneCountInString(secret) < minSize {
		secret += "0"
	}
	return secret
}

// ========== 新建 ==========

// Provision 开通管理员：校验 → 前置检查 → 创建身份 → 保存管理员 → 关联租户 → 公开资料
func (s *AdminProvisioningService) Provision(ctx context.Context, op OperatorContext, form AdminForm) (result *ProvisionResult, err error) {
	defer func() { observe("create", err) }()

	// ValidateInput
	if err := s.validateForm(&form); err != nil {
		return nil, err
	}

	// CheckPrecondition
	tenant, err := s.loadTenant(ctx, form.TenantID)
	if err != nil {
		return nil, err
	}
	if !op.CanManage(tenant) {
		return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权为该租户开通管理员")
	}
	if tenant.HasAdmin() || tenant.SuspendedAdminRef != nil {
		return nil, apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "该租户已有管理员")
	}
	if !tenant.Active {
		return nil, apperrors.Conflict(apperrors.ReasonTenantDisabled, "租户已停用，无法开通管理员")
	}
	if err := s.ensureEmailUnused(ctx, form.Email); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"email":     form.Email,
		"operator":  op.OperatorID,
	})

	// 独立身份会话，任何退出路径都要关闭
	session, err := s.deps.Identities.OpenIsolatedSession(ctx)
	if err != nil {
		return nil, apperrors.External("无法连接身份服务", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("关闭独立身份会话失败")
		}
	}()

	tx := newSaga(log)

	// CreateIdentity
	secret := InitialSecret(form.Name, s.minSecretSize)
	identityID, err := session.CreateIdentity(ctx, form.Email, secret)
	if err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			return nil, err
		}
		return nil, apperrors.External("创建登录身份失败", err)
	}
	tx.identityCreated = true
	tx.record("delete_identity", func(ctx context.Context) error {
		return session.DeleteIdentity(ctx, identityID)
	})
	log = log.WithField("admin_id", identityID)
	tx.log = log

	// 头像上传失败不阻断开通
	var warnings []string
	avatarRef := s.uploadAvatar(ctx, log, identityID, form.Avatar, &warnings)

	// PersistAdministrator
	selection := NewCapabilitySet(form.Capabilities...)
	capabilities := s.deps.Permissions.AllowedCapabilities(tenant, false).Intersect(selection)
	admin := &models.Administrator{
		BaseModel:       models.BaseModel{ID: identityID},
		Name:            form.Name,
		Email:           form.Email,
		TenantID:        tenant.ID,
		TenantKind:      tenant.Kind,
		TenantName:      tenant.Name,
		Permissions:     EncodePermissions(capabilities),
		Status:          models.AdministratorStatusActive,
		ProfileImageRef: avatarRef,
		Version:         1,
	}
	if err := s.deps.Admins.CreateAdministrator(ctx, admin); err != nil {
		return nil, tx.rollback(ctx, storeError(err, "保存管理员失败"))
	}
	tx.record("delete_administrator", func(ctx context.Context) error {
		return s.deps.Admins.DeleteAdministrator(ctx, identityID)
	})

	// LinkTenant
	if err := s.deps.Tenants.CompareAndSetAdminRef(ctx, tenant.ID, nil, &identityID); err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			err = apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "该租户已被分配管理员")
		}
		return nil, tx.rollback(ctx, err)
	}
	tx.record("unlink_tenant", func(ctx context.Context) error {
		return s.deps.Tenants.CompareAndSetAdminRef(ctx, tenant.ID, &identityID, nil)
	})

	// CreatePublicProfile
	if err := s.deps.Profiles.PutProfile(ctx, s.publicProfile(admin)); err != nil {
		return nil, tx.rollback(ctx, apperrors.External("写入公开资料失败", err))
	}

	log.Info("管理员开通完成")
	return &ProvisionResult{
		Administrator: s.viewWith(ctx, admin, capabilities),
		InitialSecret: secret,
		Warnings:      warnings,
	}, nil
}

// ========== 编辑 ==========

// Update 编辑管理员，不涉及身份创建；邮箱不可修改
func (s *AdminProvisioningService) Update(ctx context.Context, op OperatorContext, adminID string, form AdminForm) (result *ProvisionResult, err error) {
	defer func() { observe("update", err) }()

	if err := s.validateForm(&form); err != nil {
		return nil, err
	}

	admin, err := s.loadAdministrator(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin.Email != form.Email {
		return nil, apperrors.InvalidInput("管理员邮箱不可修改")
	}

	tenant, err := s.loadTenant(ctx, form.TenantID)
	if err != nil {
		return nil, err
	}
	if !op.CanManage(tenant) {
		return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权管理该租户的管理员")
	}

	moving := tenant.ID != admin.TenantID
	var previous *models.Tenant
	if moving {
		if !admin.IsActive() {
			return nil, apperrors.Conflict(apperrors.ReasonTenantDisabled, "已停用的管理员不能更换租户")
		}
		if tenant.HasAdmin() || tenant.SuspendedAdminRef != nil {
			return nil, apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "目标租户已有管理员")
		}
		if !tenant.Active {
			return nil, apperrors.Conflict(apperrors.ReasonTenantDisabled, "目标租户已停用")
		}
		previous, err = s.deps.TenantStore.GetTenant(ctx, admin.TenantID)
		if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
			return nil, storeError(err, "读取原租户失败")
		}
		if previous != nil && !op.CanManage(previous) {
			return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权管理原租户")
		}
	}

	log := s.log.WithFields(logrus.Fields{
		"admin_id":  admin.ID,
		"tenant_id": tenant.ID,
		"operator":  op.OperatorID,
	})
	tx := newSaga(log)

	var warnings []string
	avatarRef := s.uploadAvatar(ctx, log, admin.ID, form.Avatar, &warnings)

	selection := NewCapabilitySet(form.Capabilities...)
	capabilities := s.deps.Permissions.AllowedCapabilities(tenant, true).Intersect(selection)

	before := *admin
	admin.Name = form.Name
	admin.TenantID = tenant.ID
	admin.TenantKind = tenant.Kind
	admin.TenantName = tenant.Name
	admin.Permissions = EncodePermissions(capabilities)
	if avatarRef != nil {
		admin.ProfileImageRef = avatarRef
	}
	if err := s.deps.Admins.UpdateAdministrator(ctx, admin); err != nil {
		return nil, storeError(err, "保存管理员失败")
	}
	tx.record("restore_administrator", func(ctx context.Context) error {
		restore := before
		restore.Version = admin.Version
		return s.deps.Admins.UpdateAdministrator(ctx, &restore)
	})

	if moving {
		id := admin.ID
		if err := s.deps.Tenants.CompareAndSetAdminRef(ctx, tenant.ID, nil, &id); err != nil {
			if apperrors.Is(err, apperrors.KindConflict) {
				err = apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "目标租户已被分配管理员")
			}
			return nil, tx.rollback(ctx, err)
		}
		tx.record("unlink_tenant", func(ctx context.Context) error {
			return s.deps.Tenants.CompareAndSetAdminRef(ctx, tenant.ID, &id, nil)
		})

		if previous != nil && previous.AdminRef != nil && *previous.AdminRef == id {
			if err := s.deps.Tenants.CompareAndSetAdminRef(ctx, previous.ID, &id, nil); err != nil {
				return nil, tx.rollback(ctx, err)
			}
			tx.record("relink_previous_tenant", func(ctx context.Context) error {
				return s.deps.Tenants.CompareAndSetAdminRef(ctx, previous.ID, nil, &id)
			})
		}
	}

	if err := s.deps.Profiles.PutProfile(ctx, s.publicProfile(admin)); err != nil {
		return nil, tx.rollback(ctx, apperrors.External("写入公开资料失败", err))
	}

	log.WithField("moved", moving).Info("管理员已更新")
	return &ProvisionResult{
		Administrator: s.viewWith(ctx, admin, capabilities),
		Warnings:      warnings,
	}, nil
}

// ========== 移除 ==========

// Remove 移除管理员：解除租户关联、删除记录与公开资料、注销身份
func (s *AdminProvisioningService) Remove(ctx context.Context, op OperatorContext, adminID string) (err error) {
	defer func() { observe("remove", err) }()

	admin, err := s.loadAdministrator(ctx, adminID)
	if err != nil {
		return err
	}
	if adminID == op.IdentityID {
		return apperrors.Forbidden(apperrors.ReasonOutOfScope, "不能移除自己")
	}

	tenant, err := s.deps.TenantStore.GetTenant(ctx, admin.TenantID)
	if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return storeError(err, "读取租户失败")
	}
	if tenant != nil {
		if !op.CanManage(tenant) {
			return apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权管理该租户的管理员")
		}
		switch {
		case tenant.AdminRef != nil && *tenant.AdminRef == adminID:
			if err := s.deps.Tenants.CompareAndSetAdminRef(ctx, tenant.ID, &adminID, nil); err != nil {
				return err
			}
		case tenant.SuspendedAdminRef != nil && *tenant.SuspendedAdminRef == adminID:
			tenant.SuspendedAdminRef = nil
			if err := s.deps.TenantStore.UpdateTenant(ctx, tenant); err != nil {
				return storeError(err, "更新租户失败")
			}
		}
	} else if !op.IsSuperOperator {
		return apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权管理该管理员")
	}

	if err := s.deps.Admins.DeleteAdministrator(ctx, adminID); err != nil {
		return storeError(err, "删除管理员失败")
	}

	log := s.log.WithFields(logrus.Fields{"admin_id": adminID, "operator": op.OperatorID})
	if err := s.deps.Profiles.DeleteProfile(ctx, adminID); err != nil {
		log.WithError(err).Warn("删除公开资料失败")
	}

	session, err := s.deps.Identities.OpenIsolatedSession(ctx)
	if err != nil {
		return apperrors.External("无法连接身份服务，登录身份未注销", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("关闭独立身份会话失败")
		}
	}()
	if err := session.DeleteIdentity(ctx, adminID); err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
		return apperrors.External("注销登录身份失败", err)
	}

	log.Info("管理员已移除")
	return nil
}

// ========== 查询 ==========

// Get 管理员详情
func (s *AdminProvisioningService) Get(ctx context.Context, op OperatorContext, adminID string) (*AdministratorView, error) {
	admin, err := s.loadAdministrator(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !op.IsSuperOperator {
		tenant, err := s.loadTenant(ctx, admin.TenantID)
		if err != nil {
			return nil, err
		}
		if !op.CanManage(tenant) {
			return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权查看该管理员")
		}
	}
	return s.view(ctx, admin), nil
}

// List 分页查询管理员
func (s *AdminProvisioningService) List(ctx context.Context, op OperatorContext, tenantID, keyword string, page, pageSize int) ([]*AdministratorView, int64, error) {
	if !op.IsSuperOperator {
		if tenantID == "" {
			return nil, 0, apperrors.InvalidInput("请指定租户")
		}
		tenant, err := s.loadTenant(ctx, tenantID)
		if err != nil {
			return nil, 0, err
		}
		if !op.CanManage(tenant) {
			return nil, 0, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权查看该租户的管理员")
		}
	}
	admins, total, err := s.deps.Admins.ListAdministrators(ctx, tenantID, keyword, page, pageSize)
	if err != nil {
		return nil, 0, storeError(err, "查询管理员失败")
	}
	views := make([]*AdministratorView, 0, len(admins))
	for _, admin := range admins {
		views = append(views, s.view(ctx, admin))
	}
	return views, total, nil
}

// ========== 内部方法 ==========

func (s *AdminProvisioningService) view(ctx context.Context, admin *models.Administrator) *AdministratorView {
	return s.viewWith(ctx, admin, s.deps.Permissions.Normalize([]byte(admin.Permissions)))
}

// viewWith 组装详情，头像地址生成失败时留空
func (s *AdminProvisioningService) viewWith(ctx context.Context, admin *models.Administrator, capabilities CapabilitySet) *AdministratorView {
	view := &AdministratorView{Administrator: admin, Capabilities: capabilities}
	if admin.ProfileImageRef == nil || s.deps.Avatars == nil {
		return view
	}
	url, err := s.deps.Avatars.AvatarURL(ctx, *admin.ProfileImageRef)
	if err != nil {
		s.log.WithError(err).WithField("admin_id", admin.ID).Warn("生成头像地址失败")
		return view
	}
	view.AvatarURL = url
	return view
}

func (s *AdminProvisioningService) validateForm(form *AdminForm) error {
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	form.TenantID = strings.TrimSpace(form.TenantID)

	if err := s.validate.Struct(form); err != nil {
		var validationErr validator.ValidationErrors
		if errors.As(err, &validationErr) {
			for _, fieldErr := range validationErr {
				switch fieldErr.Field() {
				case "Name":
					return apperrors.InvalidInput("管理员姓名不能为空，且长度在2-50个字符之间")
				case "Email":
					return apperrors.InvalidInput("邮箱格式不正确")
				case "TenantID":
					return apperrors.InvalidInput("请选择所属租户")
				default:
					return apperrors.InvalidInput(fmt.Sprintf("字段 %s 验证失败", fieldErr.Field()))
				}
			}
		}
		return apperrors.InvalidInput("请求参数格式错误")
	}
	return nil
}

func (s *AdminProvisioningService) loadTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tenant, err := s.deps.TenantStore.GetTenant(ctx, tenantID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
		}
		return nil, storeError(err, "读取租户失败")
	}
	return tenant, nil
}

func (s *AdminProvisioningService) loadAdministrator(ctx context.Context, adminID string) (*models.Administrator, error) {
	admin, err := s.deps.Admins.GetAdministrator(ctx, adminID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
		}
		return nil, storeError(err, "读取管理员失败")
	}
	return admin, nil
}

func (s *AdminProvisioningService) ensureEmailUnused(ctx context.Context, email string) error {
	existing, err := s.deps.Admins.FindAdministratorByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return apperrors.Conflict(apperrors.ReasonEmailTaken, "该邮箱已被使用")
	case err == nil, apperrors.Is(err, apperrors.KindNotFound):
		return nil
	default:
		return storeError(err, "检查邮箱失败")
	}
}

func (s *AdminProvisioningService) uploadAvatar(ctx context.Context, log *logrus.Entry, adminID string, upload *AvatarUpload, warnings *[]string) *string {
	if upload == nil || upload.Body == nil {
		return nil
	}
	if s.deps.Avatars == nil {
		*warnings = append(*warnings, "未配置头像存储，头像未保存")
		return nil
	}
	ref, err := s.deps.Avatars.UploadAvatar(ctx, adminID, upload)
	if err != nil {
		log.WithError(err).Warn("头像上传失败")
		*warnings = append(*warnings, "头像上传失败，可稍后在编辑中重新上传")
		return nil
	}
	return &ref
}

// publicProfile 公开资料只保存对象键与不过期的公开地址
func (s *AdminProvisioningService) publicProfile(admin *models.Administrator) *models.PublicProfile {
	profile := &models.PublicProfile{
		AdministratorID: admin.ID,
		Name:            admin.Name,
		TenantID:        admin.TenantID,
		TenantKind:      admin.TenantKind,
		TenantName:      admin.TenantName,
	}
	if admin.ProfileImageRef != nil {
		profile.AvatarRef = *admin.ProfileImageRef
		if s.deps.Avatars != nil {
			profile.AvatarURL = s.deps.Avatars.PublicAvatarURL(*admin.ProfileImageRef)
		}
	}
	return profile
}

func observe(action string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = string(apperrors.KindOf(err))
	}
	metrics.ProvisioningTotal.WithLabelValues(action, result).Inc()
}
