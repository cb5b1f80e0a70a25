package services

import (
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"campusadmin/pkg/logger"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ========== 内存租户存储 ==========

type fakeTenantStore struct {
	mu        sync.Mutex
	tenants   map[string]*models.Tenant
	updateErr error
	casErr    error
}

func newFakeTenantStore() *fakeTenantStore {
	return &fakeTenantStore{tenants: make(map[string]*models.Tenant)}
}

func cloneTenant(t *models.Tenant) *models.Tenant {
	c := *t
	c.OwnerIDs = append([]string(nil), t.OwnerIDs...)
	c.FeatureFlags = datatypes.NewJSONType(copyFlags(t.Features()))
	c.AdminRef = clonePtr(t.AdminRef)
	c.SuspendedAdminRef = clonePtr(t.SuspendedAdminRef)
	c.DisabledReason = clonePtr(t.DisabledReason)
	return &c
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeTenantStore) put(t *models.Tenant) *models.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	f.tenants[t.ID] = cloneTenant(t)
	return t
}

func (f *fakeTenantStore) snapshot(id string) *models.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil
	}
	return cloneTenant(t)
}

func (f *fakeTenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	if t := f.snapshot(id); t != nil {
		return t, nil
	}
	return nil, apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
}

func (f *fakeTenantStore) ListTenantsByOwner(ctx context.Context, ownerID string) ([]*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Tenant
	for _, t := range f.tenants {
		for _, o := range t.OwnerIDs {
			if o == ownerID {
				out = append(out, cloneTenant(t))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeTenantStore) ListTenants(ctx context.Context, kind models.TenantKind, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Tenant
	for _, t := range f.tenants {
		if kind != "" && t.Kind != kind {
			continue
		}
		if keyword != "" && !strings.Contains(t.Name, keyword) {
			continue
		}
		out = append(out, cloneTenant(t))
	}
	return out, int64(len(out)), nil
}

func (f *fakeTenantStore) FindOwnerClaims(ctx context.Context, kind models.TenantKind, name string, ownerIDs []string, excludeID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []string
	for _, owner := range ownerIDs {
		for _, t := range f.tenants {
			if t.Kind != kind || t.Name != name || t.ID == excludeID {
				continue
			}
			found := false
			for _, o := range t.OwnerIDs {
				if o == owner {
					found = true
					break
				}
			}
			if found {
				claimed = append(claimed, owner)
				break
			}
		}
	}
	return claimed, nil
}

func (f *fakeTenantStore) ExistsByKindAndName(ctx context.Context, kind models.TenantKind, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		if t.Kind == kind && t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	f.put(tenant)
	return nil
}

func (f *fakeTenantStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.tenants[tenant.ID]
	if !ok {
		return apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
	}
	if stored.Version != tenant.Version {
		return apperrors.Conflict(apperrors.ReasonVersionMismatch, "版本不一致")
	}
	tenant.Version++
	next := cloneTenant(tenant)
	// 管理员引用只能通过比较写入修改
	next.AdminRef = clonePtr(stored.AdminRef)
	f.tenants[tenant.ID] = next
	return nil
}

func (f *fakeTenantStore) CompareAndSetAdminRef(ctx context.Context, tenantID string, expected, next *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.casErr != nil {
		return f.casErr
	}
	stored, ok := f.tenants[tenantID]
	if !ok {
		return apperrors.NotFound(apperrors.ReasonTenantNotFound, "租户不存在")
	}
	if !samePtr(stored.AdminRef, expected) {
		return apperrors.Conflict(apperrors.ReasonAdminAlreadyAssigned, "管理员引用已变化")
	}
	stored.AdminRef = clonePtr(next)
	return nil
}

func (f *fakeTenantStore) DeleteTenant(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants, id)
	return nil
}

func (f *fakeTenantStore) ListTenantsWithAdmin(ctx context.Context) ([]*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Tenant
	for _, t := range f.tenants {
		if t.HasAdmin() {
			out = append(out, cloneTenant(t))
		}
	}
	return out, nil
}

// ========== 内存管理员存储 ==========

type fakeAdminStore struct {
	mu        sync.Mutex
	admins    map[string]*models.Administrator
	createErr error
	updateErr error
	deleteErr error
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{admins: make(map[string]*models.Administrator)}
}

func cloneAdmin(a *models.Administrator) *models.Administrator {
	c := *a
	c.Permissions = append(datatypes.JSON(nil), a.Permissions...)
	c.ProfileImageRef = clonePtr(a.ProfileImageRef)
	return &c
}

func (f *fakeAdminStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admins)
}

func (f *fakeAdminStore) snapshot(id string) *models.Administrator {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.admins[id]
	if !ok {
		return nil
	}
	return cloneAdmin(a)
}

func (f *fakeAdminStore) GetAdministrator(ctx context.Context, id string) (*models.Administrator, error) {
	if a := f.snapshot(id); a != nil {
		return a, nil
	}
	return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
}

func (f *fakeAdminStore) FindAdministratorByEmail(ctx context.Context, email string) (*models.Administrator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.admins {
		if a.Email == email {
			return cloneAdmin(a), nil
		}
	}
	return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
}

func (f *fakeAdminStore) ListAdministrators(ctx context.Context, tenantID, keyword string, page, pageSize int) ([]*models.Administrator, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Administrator
	for _, a := range f.admins {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		out = append(out, cloneAdmin(a))
	}
	return out, int64(len(out)), nil
}

func (f *fakeAdminStore) CreateAdministrator(ctx context.Context, admin *models.Administrator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, a := range f.admins {
		if a.Email == admin.Email {
			return apperrors.Conflict(apperrors.ReasonEmailTaken, "邮箱已存在")
		}
	}
	if admin.Version == 0 {
		admin.Version = 1
	}
	f.admins[admin.ID] = cloneAdmin(admin)
	return nil
}

func (f *fakeAdminStore) UpdateAdministrator(ctx context.Context, admin *models.Administrator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.admins[admin.ID]
	if !ok {
		return apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "管理员不存在")
	}
	if stored.Version != admin.Version {
		return apperrors.Conflict(apperrors.ReasonVersionMismatch, "版本不一致")
	}
	admin.Version++
	f.admins[admin.ID] = cloneAdmin(admin)
	return nil
}

func (f *fakeAdminStore) DeleteAdministrator(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.admins, id)
	return nil
}

func (f *fakeAdminStore) ListAdministratorIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.admins))
	for id := range f.admins {
		ids = append(ids, id)
	}
	return ids, nil
}

// ========== 公开资料与启停记录 ==========

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.PublicProfile
	putErr   error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*models.PublicProfile)}
}

func (f *fakeProfileStore) PutProfile(ctx context.Context, profile *models.PublicProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	c := *profile
	f.profiles[profile.AdministratorID] = &c
	return nil
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, adminID string) (*models.PublicProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[adminID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "资料不存在")
	}
	c := *p
	return &c, nil
}

func (f *fakeProfileStore) DeleteProfile(ctx context.Context, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, adminID)
	return nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []*models.TenantLifecycleEvent
}

func (f *fakeEventStore) AppendLifecycleEvent(ctx context.Context, event *models.TenantLifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventStore) ListLifecycleEvents(ctx context.Context, tenantID string) ([]*models.TenantLifecycleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TenantLifecycleEvent
	for _, e := range f.events {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ========== 身份服务 ==========

type fakeIdentityProvider struct {
	mu         sync.Mutex
	identities map[string]string // id -> email
	secrets    map[string]string
	opened     int
	closed     int
	openErr    error
	createErr  error
	deleteErr  error
	closeErr   error
	// arrive 非空时，CreateIdentity 等待所有调用方到达后再继续
	arrive *sync.WaitGroup
}

func newFakeIdentityProvider() *fakeIdentityProvider {
	return &fakeIdentityProvider{
		identities: make(map[string]string),
		secrets:    make(map[string]string),
	}
}

func (f *fakeIdentityProvider) OpenIsolatedSession(ctx context.Context) (IdentitySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return &fakeIdentitySession{provider: f}, nil
}

func (f *fakeIdentityProvider) ListProvisionedIdentityIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.identities))
	for id := range f.identities {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeIdentityProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.identities)
}

func (f *fakeIdentityProvider) sessions() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.closed
}

type fakeIdentitySession struct {
	provider *fakeIdentityProvider
}

func (s *fakeIdentitySession) CreateIdentity(ctx context.Context, email, secret string) (string, error) {
	if s.provider.arrive != nil {
		s.provider.arrive.Done()
		s.provider.arrive.Wait()
	}
	f := s.provider
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	for _, e := range f.identities {
		if e == email {
			return "", apperrors.Conflict(apperrors.ReasonEmailTaken, "身份已存在")
		}
	}
	id := uuid.NewString()
	f.identities[id] = email
	f.secrets[id] = secret
	return id, nil
}

func (s *fakeIdentitySession) DeleteIdentity(ctx context.Context, identityID string) error {
	f := s.provider
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.identities, identityID)
	return nil
}

func (s *fakeIdentitySession) Close() error {
	f := s.provider
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

type fakeLocker struct {
	mu         sync.Mutex
	locked     map[string]bool
	disableErr error
	enableErr  error
	calls      []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locked: make(map[string]bool)}
}

func (f *fakeLocker) DisableIdentity(ctx context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disable:"+identityID)
	if f.disableErr != nil {
		return f.disableErr
	}
	f.locked[identityID] = true
	return nil
}

func (f *fakeLocker) EnableIdentity(ctx context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "enable:"+identityID)
	if f.enableErr != nil {
		return f.enableErr
	}
	f.locked[identityID] = false
	return nil
}

func (f *fakeLocker) isLocked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[id]
}

type fakeAvatars struct {
	err       error
	publicURL string
}

func (f *fakeAvatars) UploadAvatar(ctx context.Context, adminID string, upload *AvatarUpload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "avatars/" + adminID + "/" + upload.FileName, nil
}

func (f *fakeAvatars) AvatarURL(ctx context.Context, ref string) (string, error) {
	if url := f.PublicAvatarURL(ref); url != "" {
		return url, nil
	}
	return "https://signed.campus.test/" + ref, nil
}

func (f *fakeAvatars) PublicAvatarURL(ref string) string {
	if f.publicURL == "" {
		return ""
	}
	return f.publicURL + "/" + ref
}

// ========== 测试装配 ==========

type harness struct {
	tenants      *fakeTenantStore
	admins       *fakeAdminStore
	profiles     *fakeProfileStore
	events       *fakeEventStore
	identities   *fakeIdentityProvider
	locker       *fakeLocker
	avatars      *fakeAvatars
	permissions  *PermissionService
	registry     *TenantRegistry
	provisioning *AdminProvisioningService
	cascade      *LifecycleCascadeService

	university *models.Tenant
	hostel     *models.Tenant
}

var superOperator = OperatorContext{
	OperatorID:      "op-super",
	IdentityID:      "op-super",
	Email:           "root@campus.test",
	IsSuperOperator: true,
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Discard()

	h := &harness{
		tenants:    newFakeTenantStore(),
		admins:     newFakeAdminStore(),
		profiles:   newFakeProfileStore(),
		events:     &fakeEventStore{},
		identities: newFakeIdentityProvider(),
		locker:     newFakeLocker(),
		avatars:    &fakeAvatars{},
	}
	h.permissions = NewPermissionService(NewPermissionCatalog())
	h.registry = NewTenantRegistry(h.tenants, h.permissions.Catalog(), log)
	h.provisioning = NewAdminProvisioningService(ProvisioningDeps{
		Tenants:     h.registry,
		TenantStore: h.tenants,
		Admins:      h.admins,
		Profiles:    h.profiles,
		Identities:  h.identities,
		Avatars:     h.avatars,
		Permissions: h.permissions,
	}, 8, log)
	h.cascade = NewLifecycleCascadeService(h.tenants, h.admins, h.locker, h.events, log)

	h.university = h.tenants.put(&models.Tenant{
		Kind:   models.TenantKindUniversity,
		Name:   "North University",
		Active: true,
	})
	h.hostel = h.tenants.put(&models.Tenant{
		Kind:         models.TenantKindHostel,
		Name:         "H1",
		OwnerIDs:     []string{h.university.ID},
		FeatureFlags: datatypes.NewJSONType(map[string]bool{"diningmenu": true, "maintenance": false}),
		Active:       true,
	})
	return h
}

// provisionHostelAdmin 为 H1 开通一个管理员
func (h *harness) provisionHostelAdmin(t *testing.T, email string, capabilities ...string) *models.Administrator {
	t.Helper()
	result, err := h.provisioning.Provision(context.Background(), superOperator, AdminForm{
		Name:         "Hostel Admin",
		Email:        email,
		TenantID:     h.hostel.ID,
		Capabilities: capabilities,
	})
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	return result.Administrator.Administrator
}

// assertConsistent 巡检报告无异常，且每个管理员都被其所属租户引用或挂起
func (h *harness) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := NewConsistencyAuditor(h.tenants, h.admins, h.identities, "@every 1h", logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("audit not clean: %+v", report)
	}

	h.admins.mu.Lock()
	admins := make([]*models.Administrator, 0, len(h.admins.admins))
	for _, a := range h.admins.admins {
		admins = append(admins, cloneAdmin(a))
	}
	h.admins.mu.Unlock()

	for _, admin := range admins {
		tenant := h.tenants.snapshot(admin.TenantID)
		if tenant == nil {
			t.Fatalf("admin %s points at missing tenant %s", admin.ID, admin.TenantID)
		}
		linked := samePtr(tenant.AdminRef, &admin.ID) || samePtr(tenant.SuspendedAdminRef, &admin.ID)
		if !linked {
			t.Fatalf("tenant %s does not reference admin %s", tenant.ID, admin.ID)
		}
	}
}
