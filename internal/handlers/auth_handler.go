package handlers

import (
	"campusadmin/internal/identity"
	"campusadmin/internal/middleware"
	"campusadmin/internal/services"
	apperrors "campusadmin/pkg/errors"
	"campusadmin/pkg/jwt"
	"campusadmin/pkg/response"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	provider   *identity.Provider
	admins     services.AdministratorStore
	adminSvc   *services.AdminProvisioningService
	jwtManager *jwt.JWTManager
	log        *logrus.Logger
}

func NewAuthHandler(provider *identity.Provider, admins services.AdministratorStore, adminSvc *services.AdminProvisioningService, jwtManager *jwt.JWTManager, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		provider:   provider,
		admins:     admins,
		adminSvc:   adminSvc,
		jwtManager: jwtManager,
		log:        log,
	}
}

type LoginRequest struct {
	Email  string `json:"email" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

type LoginResponse struct {
	Token           string   `json:"token"`
	ExpiresAt       int64    `json:"expires_at"`
	IdentityID      string   `json:"identity_id"`
	Email           string   `json:"email"`
	IsSuperOperator bool     `json:"is_super_operator"`
	TenantScope     []string `json:"tenant_scope,omitempty"`
}

type RotateSecretRequest struct {
	Email         string `json:"email" binding:"required"`
	CurrentSecret string `json:"current_secret" binding:"required"`
	NewSecret     string `json:"new_secret" binding:"required"`
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	ident, err := h.provider.Authenticate(ctx, req.Email, req.Secret)
	if err != nil {
		response.FromError(c, err)
		return
	}

	// 委派管理员只能操作自己所属的租户
	var scope []string
	if !ident.IsSuperOperator {
		admin, err := h.admins.GetAdministrator(ctx, ident.ID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				response.Unauthorized(c, "该账号未分配租户")
				return
			}
			response.FromError(c, err)
			return
		}
		if !admin.IsActive() {
			response.Unauthorized(c, "账号已被停用")
			return
		}
		scope = []string{admin.TenantID}
	}

	token, err := h.jwtManager.GenerateToken(ident.ID, ident.Email, ident.IsSuperOperator, scope)
	if err != nil {
		h.log.WithError(err).Error("生成令牌失败")
		response.ServerError(c, "生成令牌失败")
		return
	}

	response.Success(c, LoginResponse{
		Token:           token,
		ExpiresAt:       time.Now().Add(h.jwtManager.GetTokenDuration()).Unix(),
		IdentityID:      ident.ID,
		Email:           ident.Email,
		IsSuperOperator: ident.IsSuperOperator,
		TenantScope:     scope,
	})
}

// RotateSecret 修改密码（首次登录必须先修改初始密码）
func (h *AuthHandler) RotateSecret(c *gin.Context) {
	var req RotateSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.provider.RotateSecret(c.Request.Context(), req.Email, req.CurrentSecret, req.NewSecret); err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "密码修改成功", nil)
}

// Me 当前登录信息
func (h *AuthHandler) Me(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	data := gin.H{
		"identity_id":       op.IdentityID,
		"email":             op.Email,
		"is_super_operator": op.IsSuperOperator,
		"tenant_scope":      op.TenantScope,
	}
	if !op.IsSuperOperator {
		view, err := h.adminSvc.Get(c.Request.Context(), op, op.IdentityID)
		if err != nil {
			response.FromError(c, err)
			return
		}
		data["administrator"] = view
	}

	response.Success(c, data)
}
