package services

import (
	"campusadmin/internal/models"
	"campusadmin/pkg/logger"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuditor(h *harness) *ConsistencyAuditor {
	return NewConsistencyAuditor(h.tenants, h.admins, h.identities, "@every 1h", logger.Discard())
}

func TestAuditorCleanAfterProvisioning(t *testing.T) {
	h := newHarness(t)
	h.provisionHostelAdmin(t, "a1@campus.test")

	report, err := newAuditor(h).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.CheckedTenants)
}

func TestAuditorReportsOrphanedIdentity(t *testing.T) {
	h := newHarness(t)
	h.admins.createErr = errors.New("connection reset")
	h.identities.deleteErr = errors.New("identity service unavailable")
	_, err := h.provisioning.Provision(context.Background(), superOperator, AdminForm{
		Name:     "Admin",
		Email:    "a1@campus.test",
		TenantID: h.hostel.ID,
	})
	require.Error(t, err)

	auditor := newAuditor(h)
	report, err := auditor.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.OrphanedIdentities, 1)
	assert.Same(t, report, auditor.LastReport())
}

func TestAuditorReportsBrokenReferences(t *testing.T) {
	h := newHarness(t)
	admin := h.provisionHostelAdmin(t, "a1@campus.test")

	ghost := uuid.NewString()
	h.tenants.put(&models.Tenant{
		Kind:     models.TenantKindClub,
		Name:     "Ghost Club",
		OwnerIDs: []string{h.university.ID},
		Active:   true,
		AdminRef: &ghost,
	})
	adminID := admin.ID
	h.tenants.put(&models.Tenant{
		Kind:     models.TenantKindClub,
		Name:     "Shadow Club",
		OwnerIDs: []string{h.university.ID},
		Active:   true,
		AdminRef: &adminID,
	})

	report, err := newAuditor(h).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.CheckedTenants)
	assert.Len(t, report.MissingAdmins, 1)
	assert.Len(t, report.TenantMismatches, 1)
	assert.False(t, report.Clean())
}

func TestAuditorStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	auditor := NewConsistencyAuditor(h.tenants, h.admins, h.identities, "not a schedule", logger.Discard())
	assert.Error(t, auditor.Start())

	ok := newAuditor(h)
	require.NoError(t, ok.Start())
	assert.Error(t, ok.Start())
	ok.Stop()
}

// slowTenantStore 让巡检停在读取租户处，直到 release 关闭
type slowTenantStore struct {
	*fakeTenantStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *slowTenantStore) ListTenantsWithAdmin(ctx context.Context) ([]*models.Tenant, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeTenantStore.ListTenantsWithAdmin(ctx)
}

func TestAuditorStopWaitsForRunningAudit(t *testing.T) {
	h := newHarness(t)
	store := &slowTenantStore{
		fakeTenantStore: h.tenants,
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	auditor := NewConsistencyAuditor(store, h.admins, h.identities, "@every 1s", logger.Discard())
	require.NoError(t, auditor.Start())

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled audit did not start")
	}

	stopped := make(chan struct{})
	go func() {
		auditor.Stop()
		close(stopped)
	}()

	// 巡检仍在进行，Stop 需要等待
	select {
	case <-stopped:
		t.Fatal("Stop returned before the running audit finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the audit finished")
	}
	assert.NotNil(t, auditor.LastReport())
}
