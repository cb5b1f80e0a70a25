package services

import (
	"campusadmin/internal/metrics"
	apperrors "campusadmin/pkg/errors"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// compensation 已完成步骤的撤销动作
type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga 记录补偿动作，失败时按相反顺序撤销
type saga struct {
	log             *logrus.Entry
	compensations   []compensation
	identityCreated bool
}

func newSaga(log *logrus.Entry) *saga {
	return &saga{log: log}
}

func (s *saga) record(step string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{step: step, undo: undo})
}

// rollback 撤销全部已完成步骤并返回 cause
// 身份已创建且任一补偿失败时返回 PartialProvisioningFailure
func (s *saga) rollback(ctx context.Context, cause error) error {
	// 调用方取消请求后仍需完成补偿
	ctx = context.WithoutCancel(ctx)

	var failed []string
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.undo(ctx); err != nil {
			failed = append(failed, c.step)
			metrics.ProvisioningRollbacks.WithLabelValues(c.step, metrics.ResultFailed).Inc()
			s.log.WithError(err).WithField("step", c.step).Error("补偿步骤执行失败")
			continue
		}
		metrics.ProvisioningRollbacks.WithLabelValues(c.step, metrics.ResultSuccess).Inc()
	}
	s.compensations = nil

	if len(failed) == 0 {
		return cause
	}
	if s.identityCreated {
		metrics.PartialProvisioningFailures.Inc()
		s.log.WithFields(logrus.Fields{
			"failed_steps": failed,
			"cause":        cause,
		}).Error("PARTIAL_PROVISIONING: 身份已创建但回滚未完成，需要人工核对")
		return apperrors.Wrap(
			apperrors.KindPartialProvisioningFailure,
			apperrors.ReasonOrphanedIdentity,
			"管理员开通未完成且回滚失败，请联系超级运营人工处理",
			cause,
		)
	}
	return apperrors.Wrap(apperrors.KindInternal, "", fmt.Sprintf("操作失败且回滚未完成: %v", failed), cause)
}
