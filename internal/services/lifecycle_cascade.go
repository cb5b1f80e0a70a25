package services

import (
	"campusadmin/internal/metrics"
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"context"

	"github.com/sirupsen/logrus"
)

// CascadeResult 启停结果
type CascadeResult struct {
	Tenant         *models.Tenant        `json:"tenant"`
	Administrator  *models.Administrator `json:"administrator,omitempty"`
	IdentityLocked bool                  `json:"identity_locked"`
	Excluded       bool                  `json:"excluded"` // 管理员在排除名单中，未做处理
	Unchanged      bool                  `json:"unchanged"`
}

// LifecycleCascadeService 租户启停联动管理员身份
type LifecycleCascadeService struct {
	tenants TenantStore
	admins  AdministratorStore
	locker  IdentityLocker
	events  LifecycleEventStore
	log     *logrus.Logger
}

func NewLifecycleCascadeService(tenants TenantStore, admins AdministratorStore, locker IdentityLocker, events LifecycleEventStore, log *logrus.Logger) *LifecycleCascadeService {
	return &LifecycleCascadeService{
		tenants: tenants,
		admins:  admins,
		locker:  locker,
		events:  events,
		log:     log,
	}
}

// Disable 停用租户：先远程锁定管理员身份，成功后再写本地状态
// 锁定失败时不做任何本地修改
func (s *LifecycleCascadeService) Disable(ctx context.Context, op OperatorContext, tenantID, reason string, exclude []string) (result *CascadeResult, err error) {
	defer func() { observeCascade(models.LifecycleActionDisable, err) }()

	tenant, err := s.loadTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return &CascadeResult{Tenant: tenant, Unchanged: true}, nil
	}

	log := s.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"operator":  op.OperatorID,
		"action":    models.LifecycleActionDisable,
	})
	result = &CascadeResult{Tenant: tenant}
	excluded := exclusionSet(op, exclude)

	var admin *models.Administrator
	if tenant.HasAdmin() {
		adminID := *tenant.AdminRef
		if _, skip := excluded[adminID]; skip {
			result.Excluded = true
			log.WithField("admin_id", adminID).Info("管理员在排除名单中，保留其身份与状态")
		} else {
			if tenant.SuspendedAdminRef != nil && *tenant.SuspendedAdminRef != adminID {
				return nil, apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "租户已有被挂起的管理员，请先处理后再停用")
			}
			admin, err = s.loadAdministrator(ctx, adminID)
			if err != nil {
				return nil, err
			}
			if err := s.locker.DisableIdentity(ctx, adminID); err != nil {
				return nil, apperrors.External("锁定管理员身份失败，租户未停用", err)
			}
			result.IdentityLocked = true
		}
	}

	// 锁定成功后的本地写入，失败时尽力解锁
	if admin != nil {
		admin.Status = models.AdministratorStatusDisabled
		if err := s.admins.UpdateAdministrator(ctx, admin); err != nil {
			s.undo(ctx, log, "unlock_identity", func(ctx context.Context) error {
				return s.locker.EnableIdentity(ctx, admin.ID)
			})
			return nil, storeError(err, "更新管理员状态失败")
		}
	}

	tenant.Active = false
	tenant.DisabledReason = &reason
	if admin != nil {
		tenant.SuspendedAdminRef = tenant.AdminRef
	}
	if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
		s.revertAdmin(ctx, log, admin, models.AdministratorStatusActive, true)
		return nil, storeError(err, "更新租户状态失败")
	}

	if admin != nil {
		adminID := admin.ID
		if err := s.tenants.CompareAndSetAdminRef(ctx, tenant.ID, &adminID, nil); err != nil {
			s.undo(ctx, log, "restore_tenant", func(ctx context.Context) error {
				tenant.Active = true
				tenant.DisabledReason = nil
				tenant.SuspendedAdminRef = nil
				return s.tenants.UpdateTenant(ctx, tenant)
			})
			s.revertAdmin(ctx, log, admin, models.AdministratorStatusActive, true)
			return nil, storeError(err, "挂起租户管理员失败")
		}
		tenant.AdminRef = nil
		result.Administrator = admin
	}

	s.appendEvent(ctx, log, tenant, admin, models.LifecycleActionDisable, reason, op, result.IdentityLocked)
	log.WithField("identity_locked", result.IdentityLocked).Info("租户已停用")
	return result, nil
}

// Enable 启用租户：先远程解锁管理员身份，恢复管理员引用，权限保持不变
func (s *LifecycleCascadeService) Enable(ctx context.Context, op OperatorContext, tenantID, reason string, exclude []string) (result *CascadeResult, err error) {
	defer func() { observeCascade(models.LifecycleActionEnable, err) }()

	tenant, err := s.loadTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Active {
		return &CascadeResult{Tenant: tenant, Unchanged: true}, nil
	}

	log := s.log.WithFields(logrus.Fields{
		"tenant_id": tenant.ID,
		"operator":  op.OperatorID,
		"action":    models.LifecycleActionEnable,
	})
	result = &CascadeResult{Tenant: tenant}
	excluded := exclusionSet(op, exclude)

	var admin *models.Administrator
	if tenant.SuspendedAdminRef != nil {
		adminID := *tenant.SuspendedAdminRef
		// 挂起的管理员不恢复时租户不能启用，否则会开通第二个管理员
		if _, skip := excluded[adminID]; skip {
			return nil, apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "租户的挂起管理员在排除名单中，无法启用租户，请先移除该管理员")
		}
		admin, err = s.loadAdministrator(ctx, adminID)
		if err != nil {
			return nil, err
		}
		if err := s.locker.EnableIdentity(ctx, adminID); err != nil {
			return nil, apperrors.External("解锁管理员身份失败，租户未启用", err)
		}
	} else if tenant.HasAdmin() {
		// 停用时被排除的管理员，其引用一直保留
		if _, skip := excluded[*tenant.AdminRef]; skip {
			result.Excluded = true
		}
	}

	if admin != nil {
		admin.Status = models.AdministratorStatusActive
		if err := s.admins.UpdateAdministrator(ctx, admin); err != nil {
			s.undo(ctx, log, "relock_identity", func(ctx context.Context) error {
				return s.locker.DisableIdentity(ctx, admin.ID)
			})
			return nil, storeError(err, "更新管理员状态失败")
		}

		// 先恢复引用再启用，避免启用后被并发开通抢占
		adminID := admin.ID
		if err := s.tenants.CompareAndSetAdminRef(ctx, tenant.ID, nil, &adminID); err != nil {
			s.revertAdmin(ctx, log, admin, models.AdministratorStatusDisabled, false)
			return nil, storeError(err, "恢复租户管理员失败")
		}
		tenant.AdminRef = &adminID
	}

	suspended := tenant.SuspendedAdminRef
	tenant.Active = true
	tenant.DisabledReason = nil
	if admin != nil {
		tenant.SuspendedAdminRef = nil
	}
	if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
		if admin != nil {
			adminID := admin.ID
			s.undo(ctx, log, "unlink_tenant", func(ctx context.Context) error {
				return s.tenants.CompareAndSetAdminRef(ctx, tenant.ID, &adminID, nil)
			})
			s.revertAdmin(ctx, log, admin, models.AdministratorStatusDisabled, false)
		}
		tenant.SuspendedAdminRef = suspended
		return nil, storeError(err, "更新租户状态失败")
	}
	result.Administrator = admin

	s.appendEvent(ctx, log, tenant, admin, models.LifecycleActionEnable, reason, op, false)
	log.Info("租户已启用")
	return result, nil
}

// Events 租户启停记录
func (s *LifecycleCascadeService) Events(ctx context.Context, op OperatorContext, tenantID string) ([]*models.TenantLifecycleEvent, error) {
	if _, err := s.loadTenant(ctx, op, tenantID); err != nil {
		return nil, err
	}
	events, err := s.events.ListLifecycleEvents(ctx, tenantID)
	if err != nil {
		return nil, storeError(err, "读取启停记录失败")
	}
	return events, nil
}

// ========== 内部方法 ==========

func (s *LifecycleCascadeService) loadTenant(ctx context.Context, op OperatorContext, tenantID string) (*models.Tenant, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
		}
		return nil, storeError(err, "读取租户失败")
	}
	if !op.CanManage(tenant) {
		return nil, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权启停该租户")
	}
	return tenant, nil
}

func (s *LifecycleCascadeService) loadAdministrator(ctx context.Context, adminID string) (*models.Administrator, error) {
	admin, err := s.admins.GetAdministrator(ctx, adminID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "租户关联的管理员不存在，请刷新后重试")
		}
		return nil, storeError(err, "读取管理员失败")
	}
	return admin, nil
}

// revertAdmin 尽力回退管理员状态与远程锁定
func (s *LifecycleCascadeService) revertAdmin(ctx context.Context, log *logrus.Entry, admin *models.Administrator, status string, unlock bool) {
	if admin == nil {
		return
	}
	s.undo(ctx, log, "restore_administrator", func(ctx context.Context) error {
		admin.Status = status
		return s.admins.UpdateAdministrator(ctx, admin)
	})
	if unlock {
		s.undo(ctx, log, "unlock_identity", func(ctx context.Context) error {
			return s.locker.EnableIdentity(ctx, admin.ID)
		})
		return
	}
	s.undo(ctx, log, "relock_identity", func(ctx context.Context) error {
		return s.locker.DisableIdentity(ctx, admin.ID)
	})
}

func (s *LifecycleCascadeService) undo(ctx context.Context, log *logrus.Entry, step string, fn func(ctx context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).WithField("step", step).Error("启停回退失败，需要人工核对")
	}
}

func (s *LifecycleCascadeService) appendEvent(ctx context.Context, log *logrus.Entry, tenant *models.Tenant, admin *models.Administrator, action, reason string, op OperatorContext, locked bool) {
	if s.events == nil {
		return
	}
	event := &models.TenantLifecycleEvent{
		TenantID:       tenant.ID,
		Action:         action,
		Reason:         reason,
		OperatorID:     op.OperatorID,
		IdentityLocked: locked,
	}
	if admin != nil {
		id := admin.ID
		event.AdministratorID = &id
	}
	if err := s.events.AppendLifecycleEvent(ctx, event); err != nil {
		log.WithError(err).Warn("写入启停记录失败")
	}
}

// exclusionSet 排除名单始终包含操作人自己
func exclusionSet(op OperatorContext, exclude []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exclude)+1)
	for _, id := range exclude {
		set[id] = struct{}{}
	}
	if op.IdentityID != "" {
		set[op.IdentityID] = struct{}{}
	}
	return set
}

func observeCascade(action string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = string(apperrors.KindOf(err))
	}
	metrics.LifecycleTotal.WithLabelValues(action, result).Inc()
}
