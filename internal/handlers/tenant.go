package handlers

import (
	"campusadmin/internal/middleware"
	"campusadmin/internal/models"
	"campusadmin/internal/services"
	apperrors "campusadmin/pkg/errors"
	"campusadmin/pkg/pagination"
	"campusadmin/pkg/response"
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LifecycleRequest 启停请求
type LifecycleRequest struct {
	Reason  string   `json:"reason"`
	Exclude []string `json:"exclude"` // 不受联动影响的身份ID
}

type TenantHandler struct {
	registry    *services.TenantRegistry
	permissions *services.PermissionService
	cascade     *services.LifecycleCascadeService
}

func NewTenantHandler(registry *services.TenantRegistry, permissions *services.PermissionService, cascade *services.LifecycleCascadeService) *TenantHandler {
	return &TenantHandler{
		registry:    registry,
		permissions: permissions,
		cascade:     cascade,
	}
}

// Create 创建租户
func (h *TenantHandler) Create(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	var req services.TenantDraft
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	result, err := h.registry.Create(c.Request.Context(), op, req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// GetByID 获取租户
func (h *TenantHandler) GetByID(c *gin.Context) {
	tenant, ok := h.loadManaged(c)
	if !ok {
		return
	}
	response.Success(c, tenant)
}

// GetAll 分页查询；委派运营只返回授权范围内的租户及其子租户
func (h *TenantHandler) GetAll(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	pageParams := pagination.ParsePageParams(c)
	kind := models.TenantKind(c.Query("kind"))
	keyword := c.Query("keyword")

	if op.IsSuperOperator {
		tenants, total, err := h.registry.List(c.Request.Context(), kind, keyword, pageParams.Page, pageParams.PageSize)
		if err != nil {
			response.FromError(c, err)
			return
		}
		pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
		response.SuccessWithPage(c, tenants, pageInfo)
		return
	}

	tenants, err := h.scopedTenants(c, op, kind)
	if err != nil {
		response.FromError(c, err)
		return
	}
	pageSize := len(tenants)
	if pageSize == 0 {
		pageSize = pagination.DefaultPageSize
	}
	pageInfo := pagination.NewPageInfo(1, pageSize, int64(len(tenants)))
	response.SuccessWithPage(c, tenants, pageInfo)
}

// Update 编辑租户
func (h *TenantHandler) Update(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	var req services.TenantPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.registry.Update(c.Request.Context(), op, c.Param("id"), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, tenant)
}

// Delete 删除租户
func (h *TenantHandler) Delete(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	if err := h.registry.Delete(c.Request.Context(), op, c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// Children 大学下的宿舍和社团
func (h *TenantHandler) Children(c *gin.Context) {
	parent, ok := h.loadManaged(c)
	if !ok {
		return
	}

	children, err := h.registry.ListChildren(c.Request.Context(), parent.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, children)
}

// Capabilities 管理员表单可勾选的权限，editing=true 时为编辑已有管理员
func (h *TenantHandler) Capabilities(c *gin.Context) {
	tenant, ok := h.loadManaged(c)
	if !ok {
		return
	}

	editing, _ := strconv.ParseBool(c.DefaultQuery("editing", "false"))
	allowed := h.permissions.AllowedCapabilities(tenant, editing)

	response.Success(c, gin.H{
		"tenant_id":    tenant.ID,
		"editing":      editing,
		"keys":         allowed.Keys(),
		"capabilities": h.permissions.Catalog().Capabilities(allowed),
	})
}

// Disable 停用租户并锁定其管理员
func (h *TenantHandler) Disable(c *gin.Context) {
	h.lifecycle(c, h.cascade.Disable)
}

// Enable 启用租户并恢复其管理员
func (h *TenantHandler) Enable(c *gin.Context) {
	h.lifecycle(c, h.cascade.Enable)
}

// Events 启停记录
func (h *TenantHandler) Events(c *gin.Context) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	events, err := h.cascade.Events(c.Request.Context(), op, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, events)
}

type cascadeAction func(ctx context.Context, op services.OperatorContext, tenantID, reason string, exclude []string) (*services.CascadeResult, error)

func (h *TenantHandler) lifecycle(c *gin.Context, action cascadeAction) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return
	}

	var req LifecycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "参数错误")
			return
		}
	}

	result, err := action(c.Request.Context(), op, c.Param("id"), req.Reason, req.Exclude)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, result)
}

// loadManaged 读取租户并校验操作范围，失败时已写入响应
func (h *TenantHandler) loadManaged(c *gin.Context) (*models.Tenant, bool) {
	op, ok := middleware.Operator(c)
	if !ok {
		response.Unauthorized(c, "请先登录")
		return nil, false
	}

	tenant, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	if !op.CanManage(tenant) {
		response.FromError(c, apperrors.Forbidden(apperrors.ReasonOutOfScope, "无权访问该租户"))
		return nil, false
	}
	return tenant, true
}

func (h *TenantHandler) scopedTenants(c *gin.Context, op services.OperatorContext, kind models.TenantKind) ([]*models.Tenant, error) {
	ctx := c.Request.Context()
	seen := make(map[string]struct{})
	tenants := make([]*models.Tenant, 0)
	add := func(t *models.Tenant) {
		if _, dup := seen[t.ID]; dup {
			return
		}
		seen[t.ID] = struct{}{}
		if kind == "" || t.Kind == kind {
			tenants = append(tenants, t)
		}
	}

	for _, id := range op.TenantScope {
		tenant, err := h.registry.Get(ctx, id)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		add(tenant)

		children, err := h.registry.ListChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			add(child)
		}
	}
	return tenants, nil
}
