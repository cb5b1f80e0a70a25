package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisioningTotal 管理员开通/编辑结果
	ProvisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "provisioning",
			Name:      "operations_total",
			Help:      "Administrator provisioning operations by action and result",
		},
		[]string{"action", "result"}, // action: create, update, remove
	)

	// ProvisioningRollbacks 回滚补偿执行次数
	ProvisioningRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "provisioning",
			Name:      "compensations_total",
			Help:      "Compensation steps executed while rolling back provisioning",
		},
		[]string{"step", "result"},
	)

	// PartialProvisioningFailures 需要人工处理的部分开通
	PartialProvisioningFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "provisioning",
			Name:      "partial_failures_total",
			Help:      "Provisioning attempts that left an identity without an administrator record",
		},
	)

	// LifecycleTotal 租户启停
	LifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "lifecycle",
			Name:      "cascades_total",
			Help:      "Tenant enable/disable cascades by action and result",
		},
		[]string{"action", "result"},
	)

	// IdentityEndpointCalls 身份锁定接口调用
	IdentityEndpointCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "identity",
			Name:      "endpoint_calls_total",
			Help:      "Calls to the identity disable/enable endpoints",
		},
		[]string{"action", "result"}, // result: success, failed, breaker_open
	)

	// AuditOrphanedIdentities 无管理员记录的身份数
	AuditOrphanedIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "campusadmin",
			Subsystem: "audit",
			Name:      "orphaned_identities",
			Help:      "Identities with no matching administrator record at the last audit",
		},
	)

	// AuditViolations 租户与管理员双向引用不一致数
	AuditViolations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "campusadmin",
			Subsystem: "audit",
			Name:      "violations",
			Help:      "Tenant/administrator reference violations found at the last audit",
		},
		[]string{"type"}, // missing_admin, tenant_mismatch
	)

	// AuditRuns 巡检执行次数
	AuditRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusadmin",
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Consistency audit runs",
		},
		[]string{"result"},
	)
)

// 结果标签
const (
	ResultSuccess     = "success"
	ResultFailed      = "failed"
	ResultBreakerOpen = "breaker_open"
)
