package identity

import (
	"campusadmin/internal/models"
	"campusadmin/internal/services"
	apperrors "campusadmin/pkg/errors"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Provider 登录身份服务（identities 表）
type Provider struct {
	db            *gorm.DB
	log           *logrus.Logger
	minSecretSize int
}

func NewProvider(db *gorm.DB, minSecretSize int, log *logrus.Logger) *Provider {
	if minSecretSize < 8 {
		minSecretSize = 8
	}
	return &Provider{db: db, log: log, minSecretSize: minSecretSize}
}

// ========== 独立会话 ==========

// session 独立身份会话：共用连接池，但使用全新的 gorm 会话且不携带运营人员的令牌
// 关闭后拒绝所有操作，重复关闭返回错误
type session struct {
	provider *Provider
	db       *gorm.DB
	mu       sync.Mutex
	closed   bool
}

// OpenIsolatedSession 打开独立会话
func (p *Provider) OpenIsolatedSession(ctx context.Context) (services.IdentitySession, error) {
	sqlDB, err := p.db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return &session{provider: p, db: p.db.Session(&gorm.Session{NewDB: true})}, nil
}

// CreateIdentity 创建身份，初始密码需在首次登录后修改
func (s *session) CreateIdentity(ctx context.Context, email, secret string) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}
	identity := &models.Identity{
		Email:            strings.ToLower(strings.TrimSpace(email)),
		MustRotateSecret: true,
	}
	if err := identity.SetSecret(secret); err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(identity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", apperrors.Conflict(apperrors.ReasonEmailTaken, "该邮箱已存在登录身份")
		}
		return "", err
	}
	return identity.ID, nil
}

// DeleteIdentity 删除身份，超级运营身份不可删除
func (s *session) DeleteIdentity(ctx context.Context, identityID string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("id = ? AND is_super_operator = ?", identityID, false).
		Delete(&models.Identity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("", "登录身份不存在")
	}
	return nil
}

// Close 关闭会话
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("会话已关闭")
	}
	s.closed = true
	return nil
}

func (s *session) ensureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("会话已关闭")
	}
	return nil
}

// ========== 登录与密码 ==========

// Authenticate 校验邮箱与密码
func (p *Provider) Authenticate(ctx context.Context, email, secret string) (*models.Identity, error) {
	identity, err := p.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !identity.CheckSecret(secret) {
		return nil, apperrors.New(apperrors.KindInvalidInput, apperrors.ReasonBadCredentials, "邮箱或密码错误")
	}
	if identity.Locked {
		return nil, apperrors.Forbidden(apperrors.ReasonIdentityLocked, "账号已被停用")
	}
	if identity.MustRotateSecret {
		return identity, apperrors.Forbidden(apperrors.ReasonSecretRotationRequired, "首次登录请先修改初始密码")
	}

	now := time.Now()
	identity.LastLoginAt = &now
	if err := p.db.WithContext(ctx).Model(identity).Update("last_login_at", now).Error; err != nil {
		p.log.WithError(err).Warn("更新最后登录时间失败")
	}
	return identity, nil
}

// RotateSecret 修改密码并清除强制修改标记
func (p *Provider) RotateSecret(ctx context.Context, email, currentSecret, newSecret string) error {
	identity, err := p.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !identity.CheckSecret(currentSecret) {
		return apperrors.New(apperrors.KindInvalidInput, apperrors.ReasonBadCredentials, "原密码错误")
	}
	if len([]rune(newSecret)) < p.minSecretSize {
		return apperrors.InvalidInput("新密码长度不足")
	}
	if newSecret == currentSecret {
		return apperrors.InvalidInput("新密码不能与原密码相同")
	}
	if err := identity.SetSecret(newSecret); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Model(identity).Updates(map[string]interface{}{
		"secret_hash":        identity.SecretHash,
		"must_rotate_secret": false,
	}).Error
}

// GetIdentity 根据ID获取身份
func (p *Provider) GetIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	var identity models.Identity
	if err := p.db.WithContext(ctx).Where("id = ?", identityID).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("", "登录身份不存在")
		}
		return nil, err
	}
	return &identity, nil
}

// SetLocked 锁定或解锁，重复调用结果一致
func (p *Provider) SetLocked(ctx context.Context, identityID string, locked bool) error {
	result := p.db.WithContext(ctx).Model(&models.Identity{}).
		Where("id = ? AND is_super_operator = ?", identityID, false).
		Update("locked", locked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := p.db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", identityID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperrors.NotFound("", "登录身份不存在")
		}
		// 超级运营身份不可锁定，其余为值未变化
		var identity models.Identity
		if err := p.db.WithContext(ctx).Where("id = ?", identityID).First(&identity).Error; err != nil {
			return err
		}
		if identity.IsSuperOperator {
			return apperrors.Forbidden(apperrors.ReasonOutOfScope, "超级运营身份不可锁定")
		}
	}
	return nil
}

// ListProvisionedIdentityIDs 全部非超级运营身份
func (p *Provider) ListProvisionedIdentityIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Model(&models.Identity{}).
		Where("is_super_operator = ?", false).
		Pluck("id", &ids).Error
	return ids, err
}

// EnsureSuperOperator 创建或更新超级运营身份
func (p *Provider) EnsureSuperOperator(ctx context.Context, email, secret string) (*models.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var identity models.Identity
	err := p.db.WithContext(ctx).Where("email = ?", email).First(&identity).Error
	if err == nil {
		if !identity.IsSuperOperator {
			identity.IsSuperOperator = true
			if err := p.db.WithContext(ctx).Model(&identity).Update("is_super_operator", true).Error; err != nil {
				return nil, err
			}
		}
		return &identity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	identity = models.Identity{Email: email, IsSuperOperator: true}
	if err := identity.SetSecret(secret); err != nil {
		return nil, err
	}
	if err := p.db.WithContext(ctx).Create(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (p *Provider) findByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity models.Identity
	err := p.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindInvalidInput, apperrors.ReasonBadCredentials, "邮箱或密码错误")
		}
		return nil, err
	}
	return &identity, nil
}
