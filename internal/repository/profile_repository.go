package repository

import (
	"campusadmin/internal/models"
	apperrors "campusadmin/pkg/errors"
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ProfileRepository 管理员公开资料（Redis Hash）
type ProfileRepository struct {
	client *redis.Client
	prefix string
}

func NewProfileRepository(client *redis.Client, prefix string) *ProfileRepository {
	if prefix == "" {
		prefix = "campusadmin"
	}
	return &ProfileRepository{client: client, prefix: prefix}
}

// profileKey 获取资料键名
func (r *ProfileRepository) profileKey(adminID string) string {
	return fmt.Sprintf("%s:profile:%s", r.prefix, adminID)
}

// PutProfile 整体覆盖写入
func (r *ProfileRepository) PutProfile(ctx context.Context, profile *models.PublicProfile) error {
	key := r.profileKey(profile.AdministratorID)
	fields := map[string]interface{}{
		"administrator_id": profile.AdministratorID,
		"name":             profile.Name,
		"tenant_id":        profile.TenantID,
		"tenant_kind":      string(profile.TenantKind),
		"tenant_name":      profile.TenantName,
		"avatar_ref":       profile.AvatarRef,
		"avatar_url":       profile.AvatarURL,
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入公开资料失败: %v", err)
	}
	return nil
}

// GetProfile 读取公开资料
func (r *ProfileRepository) GetProfile(ctx context.Context, adminID string) (*models.PublicProfile, error) {
	values, err := r.client.HGetAll(ctx, r.profileKey(adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取公开资料失败: %v", err)
	}
	if len(values) == 0 {
		return nil, apperrors.NotFound(apperrors.ReasonAdministratorNotFound, "公开资料不存在")
	}
	return &models.PublicProfile{
		AdministratorID: values["administrator_id"],
		Name:            values["name"],
		TenantID:        values["tenant_id"],
		TenantKind:      models.TenantKind(values["tenant_kind"]),
		TenantName:      values["tenant_name"],
		AvatarRef:       values["avatar_ref"],
		AvatarURL:       values["avatar_url"],
	}, nil
}

// DeleteProfile 删除公开资料
func (r *ProfileRepository) DeleteProfile(ctx context.Context, adminID string) error {
	return r.client.Del(ctx, r.profileKey(adminID)).Err()
}
