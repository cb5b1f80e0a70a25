package handlers

import (
	"campusadmin/internal/models"
	"campusadmin/internal/services"
	"campusadmin/pkg/response"

	"github.com/gin-gonic/gin"
)

type PermissionHandler struct {
	service *services.PermissionService
}

func NewPermissionHandler(service *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{
		service: service,
	}
}

// Catalog 菜单权限目录，可按租户类型返回功能开关词表
func (h *PermissionHandler) Catalog(c *gin.Context) {
	catalog := h.service.Catalog()

	data := gin.H{
		"baseline": catalog.Capabilities(catalog.BaselineCapabilities()),
		"universe": catalog.Capabilities(catalog.Universe()),
		"mappings": catalog.Mappings(),
	}

	if kind := models.TenantKind(c.Query("kind")); kind != "" {
		if !kind.Valid() {
			response.BadRequest(c, "租户类型错误")
			return
		}
		data["features"] = catalog.FeatureVocabulary(kind)
	}

	response.Success(c, data)
}

type NormalizePermissionsRequest struct {
	Permissions interface{} `json:"permissions"`
}

// Normalize 规范化历史权限数据（数组、分隔字符串或对象）
func (h *PermissionHandler) Normalize(c *gin.Context) {
	var req NormalizePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	response.Success(c, h.service.Normalize(req.Permissions))
}
