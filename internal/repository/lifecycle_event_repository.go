package repository

import (
	"campusadmin/internal/models"
	"context"

	"gorm.io/gorm"
)

// LifecycleEventRepository 租户启停记录
type LifecycleEventRepository struct {
	db *gorm.DB
}

func NewLifecycleEventRepository(db *gorm.DB) *LifecycleEventRepository {
	return &LifecycleEventRepository{db: db}
}

// AppendLifecycleEvent 追加记录
func (r *LifecycleEventRepository) AppendLifecycleEvent(ctx context.Context, event *models.TenantLifecycleEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListLifecycleEvents 按时间倒序列出
func (r *LifecycleEventRepository) ListLifecycleEvents(ctx context.Context, tenantID string) ([]*models.TenantLifecycleEvent, error) {
	var events []*models.TenantLifecycleEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(200).
		Find(&events).Error
	return events, err
}
