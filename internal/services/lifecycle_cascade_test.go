package services

import (
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisableFailsClosedWhenLockFails(t *testing.T) {
	h := newHarness(t)
	admin := h.provisionHostelAdmin(t, "a1@campus.test")
	h.locker.disableErr = errors.New("endpoint unreachable")

	_, err := h.cascade.Disable(context.Background(), superOperator, h.hostel.ID, "inspection", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindExternalCallFailure))

	tenant := h.tenants.snapshot(h.hostel.ID)
	assert.True(t, tenant.Active)
	assert.Equal(t, admin.ID, *tenant.AdminRef)
	assert.True(t, h.admins.snapshot(admin.ID).IsActive())
	assert.Empty(t, h.events.events)
}

func TestDisableEnableRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.provisionHostelAdmin(t, "a1@campus.test", "dashboard", "diningmenu", "contact")
	before := h.permissions.Normalize([]byte(h.admins.snapshot(admin.ID).Permissions))

	result, err := h.cascade.Disable(ctx, superOperator, h.hostel.ID, "inspection", nil)
	require.NoError(t, err)
	assert.True(t, result.IdentityLocked)
	assert.True(t, h.locker.isLocked(admin.ID))

	tenant := h.tenants.snapshot(h.hostel.ID)
	assert.False(t, tenant.Active)
	assert.Equal(t, "inspection", *tenant.DisabledReason)
	assert.Nil(t, tenant.AdminRef)
	assert.Equal(t, admin.ID, *tenant.SuspendedAdminRef)
	assert.Equal(t, models.AdministratorStatusDisabled, h.admins.snapshot(admin.ID).Status)
	h.assertConsistent(t)

	// 停用期间不能开通新管理员
	_, err = h.provisioning.Provision(ctx, superOperator, AdminForm{Name: "Other", Email: "a2@campus.test", TenantID: h.hostel.ID})
	assert.Equal(t, apperrors.ReasonTenantDisabled, apperrors.ReasonOf(err))

	_, err = h.cascade.Enable(ctx, superOperator, h.hostel.ID, "", nil)
	require.NoError(t, err)
	assert.False(t, h.locker.isLocked(admin.ID))

	tenant = h.tenants.snapshot(h.hostel.ID)
	assert.True(t, tenant.Active)
	assert.Nil(t, tenant.DisabledReason)
	assert.Nil(t, tenant.SuspendedAdminRef)
	assert.Equal(t, admin.ID, *tenant.AdminRef)

	restored := h.admins.snapshot(admin.ID)
	assert.True(t, restored.IsActive())
	assert.True(t, before.Equal(h.permissions.Normalize([]byte(restored.Permissions))))

	h.assertConsistent(t)

	require.Len(t, h.events.events, 2)
	assert.Equal(t, models.LifecycleActionDisable, h.events.events[0].Action)
	assert.Equal(t, models.LifecycleActionEnable, h.events.events[1].Action)
}

func TestDisableExcludesOperatorIdentity(t *testing.T) {
	h := newHarness(t)
	admin := h.provisionHostelAdmin(t, "a1@campus.test")
	self := OperatorContext{OperatorID: admin.ID, IdentityID: admin.ID, IsSuperOperator: true}

	result, err := h.cascade.Disable(context.Background(), self, h.hostel.ID, "self", nil)
	require.NoError(t, err)
	assert.True(t, result.Excluded)
	assert.False(t, result.IdentityLocked)
	assert.Empty(t, h.locker.calls)

	tenant := h.tenants.snapshot(h.hostel.ID)
	assert.False(t, tenant.Active)
	assert.Equal(t, admin.ID, *tenant.AdminRef)
	assert.True(t, h.admins.snapshot(admin.ID).IsActive())
}

func TestDisableExcludesListedIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.provisionHostelAdmin(t, "a1@campus.test")

	_, err := h.cascade.Disable(ctx, superOperator, h.hostel.ID, "", []string{admin.ID})
	require.NoError(t, err)
	assert.Empty(t, h.locker.calls)

	result, err := h.cascade.Enable(ctx, superOperator, h.hostel.ID, "", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Administrator)
	assert.Empty(t, h.locker.calls)
	assert.Equal(t, admin.ID, *h.tenants.snapshot(h.hostel.ID).AdminRef)
	h.assertConsistent(t)
}

func TestDisableWithoutAdmin(t *testing.T) {
	h := newHarness(t)
	result, err := h.cascade.Disable(context.Background(), superOperator, h.hostel.ID, "empty", nil)
	require.NoError(t, err)
	assert.Nil(t, result.Administrator)
	assert.False(t, h.tenants.snapshot(h.hostel.ID).Active)

	again, err := h.cascade.Disable(context.Background(), superOperator, h.hostel.ID, "empty", nil)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
}

func TestDisableUnlocksWhenLocalWriteFails(t *testing.T) {
	h := newHarness(t)
	admin := h.provisionHostelAdmin(t, "a1@campus.test")
	h.tenants.updateErr = errors.New("write timeout")

	_, err := h.cascade.Disable(context.Background(), superOperator, h.hostel.ID, "", nil)
	assert.Error(t, err)
	assert.False(t, h.locker.isLocked(admin.ID))
	assert.Equal(t, []string{"disable:" + admin.ID, "enable:" + admin.ID}, h.locker.calls)
	assert.True(t, h.admins.snapshot(admin.ID).IsActive())
	h.assertConsistent(t)
}

func TestEnableFailsClosedWhenUnlockFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.provisionHostelAdmin(t, "a1@campus.test")
	_, err := h.cascade.Disable(ctx, superOperator, h.hostel.ID, "", nil)
	require.NoError(t, err)

	h.locker.enableErr = errors.New("endpoint unreachable")
	_, err = h.cascade.Enable(ctx, superOperator, h.hostel.ID, "", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindExternalCallFailure))

	tenant := h.tenants.snapshot(h.hostel.ID)
	assert.False(t, tenant.Active)
	assert.Nil(t, tenant.AdminRef)
	assert.Equal(t, models.AdministratorStatusDisabled, h.admins.snapshot(admin.ID).Status)
}

func TestCascadeMissingTenant(t *testing.T) {
	h := newHarness(t)
	_, err := h.cascade.Disable(context.Background(), superOperator, "missing", "", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	_, err := h.cascade.Disable(context.Background(), superOperator, h.hostel.ID, "audit", nil)
	require.NoError(t, err)

	events, err := h.cascade.Events(context.Background(), superOperator, h.hostel.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "audit", events[0].Reason)
	assert.Equal(t, superOperator.OperatorID, events[0].OperatorID)
}

func TestEnableRefusesWhenSuspendedAdminExcluded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.provisionHostelAdmin(t, "a1@campus.test")

	_, err := h.cascade.Disable(ctx, superOperator, h.hostel.ID, "inspection", nil)
	require.NoError(t, err)

	// 挂起的管理员被排除时拒绝启用，租户保持停用
	_, err = h.cascade.Enable(ctx, superOperator, h.hostel.ID, "", []string{a1.ID})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	assert.Equal(t, apperrors.ReasonAdminAlreadyAssigned, apperrors.ReasonOf(err))

	tenant := h.tenants.snapshot(h.hostel.ID)
	assert.False(t, tenant.Active)
	require.NotNil(t, tenant.SuspendedAdminRef)
	assert.Equal(t, a1.ID, *tenant.SuspendedAdminRef)
	assert.True(t, h.locker.isLocked(a1.ID))

	_, err = h.provisioning.Provision(ctx, superOperator, AdminForm{Name: "Second", Email: "a2@campus.test", TenantID: h.hostel.ID})
	assert.Equal(t, apperrors.ReasonAdminAlreadyAssigned, apperrors.ReasonOf(err))
	assert.Equal(t, 1, h.admins.count())
	h.assertConsistent(t)

	// 移除挂起的管理员后才能启用并开通新管理员
	require.NoError(t, h.provisioning.Remove(ctx, superOperator, a1.ID))
	_, err = h.cascade.Enable(ctx, superOperator, h.hostel.ID, "", []string{a1.ID})
	require.NoError(t, err)
	a2, err := h.provisioning.Provision(ctx, superOperator, AdminForm{Name: "Second", Email: "a2@campus.test", TenantID: h.hostel.ID})
	require.NoError(t, err)
	assert.Equal(t, a2.Administrator.ID, *h.tenants.snapshot(h.hostel.ID).AdminRef)
	h.assertConsistent(t)
}

func TestProvisionRefusesTenantWithSuspendedAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parked := "parked-admin"
	tenant := h.tenants.snapshot(h.hostel.ID)
	tenant.SuspendedAdminRef = &parked
	h.tenants.put(tenant)

	_, err := h.provisioning.Provision(ctx, superOperator, AdminForm{Name: "Second", Email: "a2@campus.test", TenantID: h.hostel.ID})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	assert.Equal(t, apperrors.ReasonAdminAlreadyAssigned, apperrors.ReasonOf(err))
	assert.Equal(t, 0, h.identities.count())
}

func TestDisableKeepsExistingSuspendedAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.provisionHostelAdmin(t, "a1@campus.test")

	// 人为构造已启用但仍挂起旧管理员的租户
	parked := "parked-admin"
	tenant := h.tenants.snapshot(h.hostel.ID)
	tenant.SuspendedAdminRef = &parked
	h.tenants.put(tenant)

	_, err := h.cascade.Disable(ctx, superOperator, h.hostel.ID, "", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
	assert.Empty(t, h.locker.calls)

	stored := h.tenants.snapshot(h.hostel.ID)
	assert.True(t, stored.Active)
	assert.Equal(t, parked, *stored.SuspendedAdminRef)
	assert.Equal(t, a1.ID, *stored.AdminRef)
}
