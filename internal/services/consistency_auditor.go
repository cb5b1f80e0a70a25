package services

import (
	"campusadmin/internal/metrics"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// AuditReport 一次巡检的结果
type AuditReport struct {
	CheckedTenants     int       `json:"checked_tenants"`
	MissingAdmins      []string  `json:"missing_admins"`      // 引用的管理员不存在的租户
	TenantMismatches   []string  `json:"tenant_mismatches"`   // 管理员所属租户与引用方不一致的租户
	OrphanedIdentities []string  `json:"orphaned_identities"` // 没有管理员记录的身份
	FinishedAt         time.Time `json:"finished_at"`
}

// Clean 是否无异常
func (r *AuditReport) Clean() bool {
	return len(r.MissingAdmins) == 0 && len(r.TenantMismatches) == 0 && len(r.OrphanedIdentities) == 0
}

// ConsistencyAuditor 定时巡检租户与管理员的双向引用，只报告不修复
type ConsistencyAuditor struct {
	tenants    TenantStore
	admins     AdministratorStore
	identities IdentityDirectory
	log        *logrus.Logger
	cron       *cron.Cron
	schedule   string
	timeout    time.Duration
	mu         sync.Mutex
	running    bool
	last       *AuditReport
}

func NewConsistencyAuditor(tenants TenantStore, admins AdministratorStore, identities IdentityDirectory, schedule string, log *logrus.Logger) *ConsistencyAuditor {
	return &ConsistencyAuditor{
		tenants:    tenants,
		admins:     admins,
		identities: identities,
		log:        log,
		cron:       cron.New(),
		schedule:   schedule,
		timeout:    2 * time.Minute,
	}
}

// Start 启动定时巡检
func (a *ConsistencyAuditor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("巡检任务已经在运行")
	}

	_, err := a.cron.AddFunc(a.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.Run(ctx); err != nil {
			a.log.WithError(err).Error("一致性巡检失败")
		}
	})
	if err != nil {
		return fmt.Errorf("无效的巡检周期 %q: %v", a.schedule, err)
	}

	a.cron.Start()
	a.running = true
	a.log.Infof("一致性巡检已启动，周期: %s", a.schedule)
	return nil
}

// Stop 停止定时巡检，等待进行中的巡检结束
// 等待期间不能持有 mu，进行中的 Run 结束时需要写入 last
func (a *ConsistencyAuditor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	scheduler := a.cron
	a.mu.Unlock()

	<-scheduler.Stop().Done()
	a.log.Info("一致性巡检已停止")
}

// LastReport 最近一次巡检结果
func (a *ConsistencyAuditor) LastReport() *AuditReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Run 执行一次巡检
func (a *ConsistencyAuditor) Run(ctx context.Context) (*AuditReport, error) {
	report, err := a.run(ctx)
	if err != nil {
		metrics.AuditRuns.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}
	metrics.AuditRuns.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.AuditOrphanedIdentities.Set(float64(len(report.OrphanedIdentities)))
	metrics.AuditViolations.WithLabelValues("missing_admin").Set(float64(len(report.MissingAdmins)))
	metrics.AuditViolations.WithLabelValues("tenant_mismatch").Set(float64(len(report.TenantMismatches)))

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
	return report, nil
}

func (a *ConsistencyAuditor) run(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}

	tenants, err := a.tenants.ListTenantsWithAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取租户失败: %w", err)
	}
	report.CheckedTenants = len(tenants)

	for _, tenant := range tenants {
		adminID := *tenant.AdminRef
		admin, err := a.admins.GetAdministrator(ctx, adminID)
		if err != nil || admin == nil {
			report.MissingAdmins = append(report.MissingAdmins, tenant.ID)
			a.log.WithFields(logrus.Fields{"tenant_id": tenant.ID, "admin_id": adminID}).
				Warn("租户引用的管理员不存在")
			continue
		}
		if admin.TenantID != tenant.ID {
			report.TenantMismatches = append(report.TenantMismatches, tenant.ID)
			a.log.WithFields(logrus.Fields{
				"tenant_id":       tenant.ID,
				"admin_id":        adminID,
				"admin_tenant_id": admin.TenantID,
			}).Warn("管理员所属租户与租户引用不一致")
		}
	}

	if a.identities != nil {
		identityIDs, err := a.identities.ListProvisionedIdentityIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("读取身份列表失败: %w", err)
		}
		adminIDs, err := a.admins.ListAdministratorIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("读取管理员列表失败: %w", err)
		}
		known := make(map[string]struct{}, len(adminIDs))
		for _, id := range adminIDs {
			known[id] = struct{}{}
		}
		for _, id := range identityIDs {
			if _, ok := known[id]; !ok {
				report.OrphanedIdentities = append(report.OrphanedIdentities, id)
				a.log.WithField("identity_id", id).Warn("发现没有管理员记录的身份，需要人工核对")
			}
		}
	}

	report.FinishedAt = time.Now()
	a.log.WithFields(logrus.Fields{
		"checked":    report.CheckedTenants,
		"missing":    len(report.MissingAdmins),
		"mismatched": len(report.TenantMismatches),
		"orphaned":   len(report.OrphanedIdentities),
	}).Info("一致性巡检完成")
	return report, nil
}
