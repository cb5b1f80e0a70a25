package handlers

import (
	"campusadmin/internal/identity"
	"campusadmin/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IdentityLockRequest 锁定/解锁请求体
type IdentityLockRequest struct {
	UID string `json:"uid" binding:"required"`
}

// IdentityHandler 身份锁定/解锁端点（服务密钥认证）
type IdentityHandler struct {
	provider *identity.Provider
	log      *logrus.Logger
}

func NewIdentityHandler(provider *identity.Provider, log *logrus.Logger) *IdentityHandler {
	return &IdentityHandler{
		provider: provider,
		log:      log,
	}
}

// Disable 锁定身份，重复调用结果一致
func (h *IdentityHandler) Disable(c *gin.Context) {
	h.setLocked(c, true)
}

// Enable 解锁身份，重复调用结果一致
func (h *IdentityHandler) Enable(c *gin.Context) {
	h.setLocked(c, false)
}

func (h *IdentityHandler) setLocked(c *gin.Context, locked bool) {
	var req IdentityLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "uid不能为空")
		return
	}

	if err := h.provider.SetLocked(c.Request.Context(), req.UID, locked); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"uid":    req.UID,
			"locked": locked,
		}).Warn("设置身份锁定状态失败")
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{"uid": req.UID, "locked": locked})
}
